// Package transcription implements the speech-to-text pipeline stages.
//
// AudioExtractor pulls a WAV track out of uploaded video (remuxing the audio
// to AAC first when the codec is one ffmpeg may not decode cleanly). Whisper
// drives the faster-whisper CLI, which writes an SRT file into the output
// directory. Finalize renames that SRT after the task and renders the
// single-paragraph HTML transcript, or a placeholder page when no speech was
// detected.
package transcription
