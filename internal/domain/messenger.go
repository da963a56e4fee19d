package domain

import "context"

// Tone selects the visual template for a rich summary.
type Tone string

const (
	ToneGood  Tone = "good"  // all-clear: favorable template
	ToneAlert Tone = "alert" // attention-drawing template
)

// Messenger is the outbound capability surface of a chat platform.
// Implementations are thin REST wrappers; every method is best-effort
// and returns an error the caller may log and continue past.
type Messenger interface {
	Platform() string
	SendText(ctx context.Context, recipient, text string) error
	// SendRichSummary delivers markdown-ish content in the platform's
	// richest available format, styled by tone.
	SendRichSummary(ctx context.Context, recipient, content string, tone Tone) error
	// UploadFile uploads a local file and returns a platform file handle.
	UploadFile(ctx context.Context, path string) (string, error)
	SendFile(ctx context.Context, recipient, handle string) error
}
