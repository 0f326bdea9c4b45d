package whatsapp

import "testing"

func TestDecodeCloudAPIText(t *testing.T) {
	body := []byte(`{
		"entry": [{
			"changes": [{
				"value": {
					"messages": [{
						"from": "27820001111",
						"id": "wamid.abc",
						"type": "text",
						"text": {"body": "order"}
					}]
				}
			}]
		}]
	}`)

	events, err := DecodeCloudAPI(body)
	if err != nil {
		t.Fatalf("DecodeCloudAPI: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.Kind != KindText || ev.SubjectID != "27820001111" || ev.Text != "order" || ev.DeliveryID != "wamid.abc" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestDecodeCloudAPIInteractiveListReply(t *testing.T) {
	body := []byte(`{
		"entry": [{
			"changes": [{
				"value": {
					"messages": [{
						"from": "27820001111",
						"id": "wamid.def",
						"type": "interactive",
						"interactive": {
							"type": "list_reply",
							"list_reply": {"id": "order:coffee", "title": "Coffee"}
						}
					}]
				}
			}]
		}]
	}`)

	events, err := DecodeCloudAPI(body)
	if err != nil {
		t.Fatalf("DecodeCloudAPI: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.Kind != KindInteractive || ev.ReplyID != "order:coffee" || ev.ReplyTitle != "Coffee" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestDecodeCloudAPIMedia(t *testing.T) {
	body := []byte(`{
		"entry": [{
			"changes": [{
				"value": {
					"messages": [{
						"from": "27820001111",
						"id": "wamid.ghi",
						"type": "image",
						"image": {"id": "media-77"}
					}]
				}
			}]
		}]
	}`)

	events, err := DecodeCloudAPI(body)
	if err != nil {
		t.Fatalf("DecodeCloudAPI: %v", err)
	}
	ev := events[0]
	if ev.Kind != KindMedia || ev.MediaID != "media-77" || ev.MediaType != "image" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestDecodeCloudAPIStatusCallback(t *testing.T) {
	// Delivery receipts carry no messages array; they decode to zero
	// events without error.
	body := []byte(`{"entry":[{"changes":[{"value":{"statuses":[{"id":"wamid.x","status":"delivered"}]}}]}]}`)
	events, err := DecodeCloudAPI(body)
	if err != nil {
		t.Fatalf("DecodeCloudAPI: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("events = %d, want 0", len(events))
	}
}

func TestDecodeCloudAPIMalformed(t *testing.T) {
	if _, err := DecodeCloudAPI([]byte(`{not json`)); err == nil {
		t.Fatal("expected decode error")
	}
}
