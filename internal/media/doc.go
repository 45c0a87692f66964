// Package media holds the probed description of a media file and the policy
// that decides whether it must be re-encoded.
//
// Profile is computed fresh for every task by the probe adapter and is never
// cached. Rational keeps frame rates as numerator/denominator pairs parsed from
// ffprobe's "num/den" notation. Policy carries the operator-configured sets of
// containers and codecs that force a transcode.
package media
