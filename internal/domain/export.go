package domain

// ExportBundle is the human-facing serialized document produced by the
// export endpoint. Provider configs keep their secrets, so producers must
// warn the user before handing the bundle out.
type ExportBundle struct {
	Version   int              `json:"version"`
	Agents    []Agent          `json:"agents"`
	Providers []ProviderConfig `json:"providers"`
	Session   *Session         `json:"session,omitempty"`
	Messages  []Message        `json:"messages,omitempty"`
}

// ExportBundleVersion is the current bundle schema version.
const ExportBundleVersion = 1
