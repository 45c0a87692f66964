package transcription

import (
	"html"

	"github.com/google/renameio/v2"
)

// EmptyTranscriptMessage is shown when no speech was detected.
const EmptyTranscriptMessage = "No transcribable speech detected."

// RenderParagraphHTML renders the transcript as a single escaped paragraph.
func RenderParagraphHTML(cues []Cue) []byte {
	return renderPage(Paragraph(cues))
}

// RenderEmptyHTML renders the placeholder page for silent media.
func RenderEmptyHTML() []byte {
	return renderPage(EmptyTranscriptMessage)
}

func renderPage(text string) []byte {
	return []byte("<html><head><meta charset=\"utf-8\"></head><body><p>" + html.EscapeString(text) + "</p></body></html>\n")
}

func writeAtomic(path string, data []byte) error {
	return renameio.WriteFile(path, data, 0o644)
}
