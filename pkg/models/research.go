// Package models contains shared data models used across the gtmdocs codebase.
package models

// ResearchResult maps template section keys to generated section text, as
// parsed from the provider's completed output. Sections the provider omitted
// are simply absent; the materializer leaves their placeholders untouched so
// partial completions stay inspectable.
type ResearchResult map[string]string

// Section returns the text for a section key, or "" when absent.
func (r ResearchResult) Section(key string) string {
	if r == nil {
		return ""
	}
	return r[key]
}
