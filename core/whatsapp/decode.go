package whatsapp

import (
	"encoding/json"
	"fmt"
)

// DecodeFunc translates a raw webhook body into normalized events.
// Swapping it out adapts the engine to a different provider envelope.
type DecodeFunc func(body []byte) ([]Event, error)

// Cloud API webhook envelope, reduced to the fields the engine reads.
type cloudEnvelope struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []cloudMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type cloudMessage struct {
	From string `json:"from"`
	ID   string `json:"id"`
	Type string `json:"type"`
	Text *struct {
		Body string `json:"body"`
	} `json:"text"`
	Interactive *struct {
		Type      string          `json:"type"`
		ListReply *cloudReplyMeta `json:"list_reply"`
		BtnReply  *cloudReplyMeta `json:"button_reply"`
	} `json:"interactive"`
	Image    *cloudMedia `json:"image"`
	Document *cloudMedia `json:"document"`
	Audio    *cloudMedia `json:"audio"`
	Video    *cloudMedia `json:"video"`
}

type cloudReplyMeta struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type cloudMedia struct {
	ID string `json:"id"`
}

// DecodeCloudAPI parses the Cloud-API-style webhook envelope
// (entry → changes → value → messages) into normalized events. Status
// callbacks and unknown change types decode to no events, not errors.
func DecodeCloudAPI(body []byte) ([]Event, error) {
	var env cloudEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("webhook decode: %w", err)
	}

	var events []Event
	for _, entry := range env.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				events = append(events, normalizeCloudMessage(msg))
			}
		}
	}
	return events, nil
}

func normalizeCloudMessage(msg cloudMessage) Event {
	ev := Event{
		SubjectID:  msg.From,
		DeliveryID: msg.ID,
		Kind:       KindOther,
	}

	switch msg.Type {
	case "text":
		ev.Kind = KindText
		if msg.Text != nil {
			ev.Text = msg.Text.Body
		}
	case "interactive":
		ev.Kind = KindInteractive
		if msg.Interactive != nil {
			if r := msg.Interactive.ListReply; r != nil {
				ev.ReplyID, ev.ReplyTitle = r.ID, r.Title
			}
			if r := msg.Interactive.BtnReply; r != nil {
				ev.ReplyID, ev.ReplyTitle = r.ID, r.Title
			}
		}
	case "image", "document", "audio", "video":
		ev.Kind = KindMedia
		ev.MediaType = msg.Type
		for _, media := range []*cloudMedia{msg.Image, msg.Document, msg.Audio, msg.Video} {
			if media != nil {
				ev.MediaID = media.ID
				break
			}
		}
	}
	return ev
}
