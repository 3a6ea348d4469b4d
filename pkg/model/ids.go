package model

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
)

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func randSuffix(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteByte(idAlphabet[rand.Intn(len(idAlphabet))])
	}
	return b.String()
}

// NewTaskID returns a sortable task identifier, e.g. task_1700000000123_a1b2c3.
func NewTaskID() string {
	return fmt.Sprintf("task_%d_%s", time.Now().UnixMilli(), randSuffix(6))
}

// NewFileID returns an identifier for stored artifacts.
func NewFileID() string {
	return fmt.Sprintf("file_%d_%s", time.Now().UnixMilli(), randSuffix(6))
}

// NewUserID returns a user identifier, e.g. usr_1a2b3c4d5e6f.
func NewUserID() string {
	return "usr_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
