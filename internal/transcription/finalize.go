package transcription

import (
	"fmt"
	"os"
	"path/filepath"

	"clipforge/internal/services"
)

// Result lists the artifacts of a finished transcription.
type Result struct {
	SRTPath  string
	HTMLPath string
	Empty    bool
}

// Artifacts returns the produced paths in delivery order.
func (r Result) Artifacts() []string {
	if r.SRTPath == "" {
		return []string{r.HTMLPath}
	}
	return []string{r.SRTPath, r.HTMLPath}
}

// Finalize renames srtPath to <taskID>.srt in dir and renders <taskID>.html.
// A missing SRT or one without text yields <taskID>_no_transcription.html and
// Empty set; that is not an error.
func Finalize(dir, taskID, srtPath string) (Result, error) {
	if srtPath != "" {
		target := filepath.Join(dir, taskID+".srt")
		if srtPath != target {
			if err := os.Rename(srtPath, target); err != nil {
				return Result{}, services.Wrap(services.ErrTranscription, "finalize", "rename srt", target, err)
			}
		}
		cues, err := ReadSRT(target)
		if err != nil {
			return Result{}, services.Wrap(services.ErrTranscription, "finalize", "parse srt", target, err)
		}
		if HasText(cues) {
			htmlPath := filepath.Join(dir, taskID+".html")
			if err := writeAtomic(htmlPath, RenderParagraphHTML(cues)); err != nil {
				return Result{}, services.Wrap(services.ErrTranscription, "finalize", "write html", htmlPath, err)
			}
			return Result{SRTPath: target, HTMLPath: htmlPath}, nil
		}
	}

	htmlPath := filepath.Join(dir, fmt.Sprintf("%s_no_transcription.html", taskID))
	if err := writeAtomic(htmlPath, RenderEmptyHTML()); err != nil {
		return Result{}, services.Wrap(services.ErrTranscription, "finalize", "write html", htmlPath, err)
	}
	return Result{HTMLPath: htmlPath, Empty: true}, nil
}
