package domain

import "fmt"

// CallType selects the media a call carries. Audio-only calls never attach
// or forward video tracks, even if a device offers one.
type CallType string

const (
	CallAudio CallType = "audio"
	CallVideo CallType = "video"
)

func ParseCallType(s string) (CallType, error) {
	switch CallType(s) {
	case CallAudio, CallVideo:
		return CallType(s), nil
	case "":
		return CallAudio, nil
	default:
		return "", fmt.Errorf("unknown call type %q", s)
	}
}

// WantsVideo reports whether local capture should include a video track.
func (t CallType) WantsVideo() bool { return t == CallVideo }
