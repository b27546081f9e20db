package model

import "fmt"

// Artifact is a named binary blob scoped to a song.
type Artifact string

const (
	ArtifactOriginalAudio     Artifact = "original.wav"
	ArtifactInstrumentalAudio Artifact = "instrumental.wav"
	ArtifactVocalsAudio       Artifact = "vocals.wav"
	ArtifactLyricsText        Artifact = "lyrics.txt"
	ArtifactLyricsAligned     Artifact = "lyrics.json"
)

// ArtifactKey returns the object storage key for a song artifact.
func ArtifactKey(songID string, a Artifact) string {
	return fmt.Sprintf("songs/%s/%s", songID, a)
}

// ContentType returns the MIME type stored alongside the artifact.
func (a Artifact) ContentType() string {
	switch a {
	case ArtifactOriginalAudio, ArtifactInstrumentalAudio, ArtifactVocalsAudio:
		return "audio/wav"
	case ArtifactLyricsText:
		return "text/plain; charset=utf-8"
	case ArtifactLyricsAligned:
		return "application/json"
	}
	return "application/octet-stream"
}
