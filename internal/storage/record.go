package storage

import (
	"hash/fnv"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/utestwalter/Mila/internal/task/schedule"
)

// metadata is the on-disk JSON companion of the instructions text. The first
// five fields keep the layout older deployments wrote; the rest are optional.
type metadata struct {
	TaskID         string        `json:"task_id"`
	PromptFile     string        `json:"prompt_file"`
	SearchQuery    *string       `json:"search_query"`
	Schedule       schedule.Wire `json:"schedule"`
	TelegramChatID int64         `json:"telegram_chat_id"`
	ThreadID       int           `json:"thread_id,omitempty"`
	Owner          string        `json:"owner,omitempty"`
	CreatedAt      *time.Time    `json:"created_at,omitempty"`
	Checksum       string        `json:"checksum,omitempty"`
}

func instructionsFile(id string) string { return id + ".txt" }

func checksum(instructions string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(instructions))
	return strconv.FormatUint(h.Sum64(), 16)
}

func encodeMetadata(def TaskDefinition) ([]byte, error) {
	m := metadata{
		TaskID:         def.ID,
		PromptFile:     instructionsFile(def.ID),
		Schedule:       schedule.Encode(def.Schedule),
		TelegramChatID: def.Recipient.ChatID,
		ThreadID:       def.Recipient.ThreadID,
		Owner:          def.Owner,
		Checksum:       checksum(def.Instructions),
	}
	if !def.IsReminder() {
		q := strings.TrimSpace(def.SearchQuery)
		m.SearchQuery = &q
	}
	if !def.CreatedAt.IsZero() {
		at := def.CreatedAt.UTC()
		m.CreatedAt = &at
	}
	return sonic.ConfigStd.MarshalIndent(m, "", "  ")
}

// decodeRecord rebuilds a definition from its two artifacts and checks that
// they belong together.
func decodeRecord(id string, instructions string, meta []byte) (TaskDefinition, error) {
	var m metadata
	if err := sonic.Unmarshal(meta, &m); err != nil {
		return TaskDefinition{}, corruptf(id, "metadata: %v", err)
	}
	if m.TaskID != "" && m.TaskID != id {
		return TaskDefinition{}, corruptf(id, "metadata names task %q", m.TaskID)
	}
	if m.Checksum != "" && m.Checksum != checksum(instructions) {
		return TaskDefinition{}, corruptf(id, "instructions checksum mismatch")
	}
	spec, err := m.Schedule.Decode()
	if err != nil {
		return TaskDefinition{}, corruptf(id, "schedule: %v", err)
	}

	def := TaskDefinition{
		ID:           id,
		Owner:        m.Owner,
		Instructions: instructions,
		Schedule:     spec,
	}
	def.Recipient.ChatID = m.TelegramChatID
	def.Recipient.ThreadID = m.ThreadID
	if m.SearchQuery != nil {
		def.SearchQuery = strings.TrimSpace(*m.SearchQuery)
	}
	if m.CreatedAt != nil {
		def.CreatedAt = *m.CreatedAt
	}
	return def, nil
}
