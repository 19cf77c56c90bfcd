package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"time"
)

// Destination file suffixes for merged side artifacts.
const (
	MetadataFileExt = "_metadata_full.json"
	IMUFileExt      = "_imu.csv"
)

// IngestionRecord is the assembled artifact handed to the downstream
// persistence consumer once every fragment is in place.
type IngestionRecord struct {
	ID                         string `json:"_id"`
	MediaType                  string `json:"media_type"`
	S3Path                     string `json:"s3_path"`
	FootageFrom                int64  `json:"footagefrom,omitempty"`
	FootageTo                  int64  `json:"footageto,omitempty"`
	Timestamp                  int64  `json:"timestamp,omitempty"`
	Tenant                     string `json:"tenant"`
	DeviceID                   string `json:"deviceid"`
	Length                     string `json:"length,omitempty"`
	Resolution                 string `json:"resolution,omitempty"`
	MDFAvailable               string `json:"MDF_available,omitempty"`
	SyncFileExt                string `json:"sync_file_ext,omitempty"`
	InternalMessageReferenceID string `json:"internal_message_reference_id"`
}

// TrainingCandidate is the lightweight payload announcing an interior
// recording as a candidate for training upload selection.
type TrainingCandidate struct {
	StreamName  string `json:"streamName"`
	DeviceID    string `json:"deviceId"`
	FootageFrom int64  `json:"footageFrom"`
	FootageTo   int64  `json:"footageTo"`
}

// MDFNotification points the metadata parser at a freshly merged side
// artifact.
type MDFNotification struct {
	ID     string `json:"_id"`
	S3Path string `json:"s3_path"`
}

// referenceID derives the correlation hash healthcheck tooling uses to track
// an artifact across services.
func referenceID(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}

// formatLength renders a probed duration as H:MM:SS.
func formatLength(seconds float64) string {
	total := int(math.Round(seconds))
	d := time.Duration(total) * time.Second
	return fmt.Sprintf("%d:%02d:%02d",
		int(d.Hours()), int(d.Minutes())%60, total%60)
}
