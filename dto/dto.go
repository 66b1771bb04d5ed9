package dto

import (
	"fmt"

	"github.com/google/uuid"
	"quickcap-api/constant"
)

// Broker payloads. Every request, reply and event crossing the broker
// boundary is an explicit struct; malformed bodies are rejected at the
// edge instead of leaking partial objects into the pipeline.

type TranscribeRequest struct {
	URL string `json:"url"`
}

type TranscribeReply struct {
	Transcript string `json:"transcript"`
	IsNSFW     bool   `json:"isNSFW"`
}

type VideoDataRequest struct {
	Transcript string `json:"transcript"`
}

type VideoDataReply struct {
	Title         string `json:"title"`
	Description   string `json:"description"`
	Category      string `json:"category"`
	IsNewCategory bool   `json:"isNewCategory"`
}

type CheckNsfwEvent struct {
	VideoURL string    `json:"videoUrl"`
	VideoId  uuid.UUID `json:"videoId"`
}

type NsfwResultEvent struct {
	VideoId           uuid.UUID          `json:"videoId"`
	IsNSFW            bool               `json:"isNSFW"`
	DominantCategory  constant.NSFWLabel `json:"dominantCategory"`
	CategoryBreakdown map[string]float64 `json:"categoryBreakdown"`
}

func (e NsfwResultEvent) Validate() error {
	if e.VideoId == uuid.Nil {
		return fmt.Errorf("nsfw-result event missing videoId")
	}
	return nil
}

// UploadStatus is returned for every chunk POST and status poll.
type UploadStatus struct {
	Uploaded int   `json:"uploaded"`
	Total    int   `json:"total"`
	Complete bool  `json:"complete"`
	Missing  []int `json:"missing,omitempty"`
}
