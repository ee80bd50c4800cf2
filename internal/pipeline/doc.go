// Package pipeline drives every located archive through unwrap, container
// conversion, extraction, driver substitution and, when a module changed,
// repacking and in-place replacement.
//
// Archives are processed one at a time. A failure is recorded against the
// archive it happened in and the run moves on to the next one; only a missing
// override directory, a held run lock or an unreadable scan root end the run.
package pipeline
