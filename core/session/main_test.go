package session

import (
	"os"
	"testing"

	"github.com/jubayershuvo/wa-bot-sub000/core/logger"
)

func TestMain(m *testing.M) {
	if err := logger.InitLogger(nil); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}
