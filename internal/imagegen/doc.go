// Package imagegen wraps hosted image models (OpenAI Images, Google Gemini)
// behind a single Generator interface. A local placeholder renderer is
// provided for offline use.
package imagegen
