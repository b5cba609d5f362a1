package drive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/yoyaba/gtmdocs/internal/retry"
	"github.com/yoyaba/gtmdocs/pkg/models"
	"github.com/yoyaba/gtmdocs/pkg/prompt"
)

// Materializer turns a research result into durable artifacts: a per-company
// folder, a document copied from the template, and a versioned JSON snapshot.
// Every flow is find-or-create so that a redelivered event converges on the
// artifacts produced by the first delivery instead of duplicating them.
type Materializer struct {
	client        Client
	policy        retry.Policy
	templateDocID string
	rootFolderID  string
	shareEmail    string
	logger        *slog.Logger
	now           func() time.Time
}

func NewMaterializer(client Client, policy retry.Policy, templateDocID, rootFolderID, shareEmail string, logger *slog.Logger) *Materializer {
	return &Materializer{
		client:        client,
		policy:        policy,
		templateDocID: templateDocID,
		rootFolderID:  rootFolderID,
		shareEmail:    shareEmail,
		logger:        logger,
		now:           time.Now,
	}
}

// FolderName derives the container name from the company identity. The name
// is deterministic so that concurrent and repeated materializations resolve
// to the same folder.
func FolderName(companyID, domain string) string {
	return companyID + "-" + domain
}

// DocumentName derives the document title from the company identity.
func DocumentName(companyID, domain string) string {
	return fmt.Sprintf("%s-%s GTM Strategy", companyID, domain)
}

// DocumentURL builds the canonical edit URL for a materialized document.
func DocumentURL(docID string) string {
	return "https://docs.google.com/document/d/" + docID + "/edit"
}

// EnsureFolder returns the ID of the company folder, creating it under the
// root folder when absent. Sharing failures on a fresh folder are logged but
// do not fail the job; the artifacts are still materialized.
func (m *Materializer) EnsureFolder(ctx context.Context, companyID, domain string) (string, error) {
	name := FolderName(companyID, domain)

	folderID, err := retry.Do(ctx, m.policy, func(ctx context.Context) (string, error) {
		return m.client.FindFolder(ctx, name, m.rootFolderID)
	}, Classify)
	if err != nil {
		return "", fmt.Errorf("finding folder %q: %w", name, err)
	}
	if folderID != "" {
		return folderID, nil
	}

	folderID, err = retry.Do(ctx, m.policy, func(ctx context.Context) (string, error) {
		return m.client.CreateFolder(ctx, name, m.rootFolderID)
	}, Classify)
	if err != nil {
		return "", fmt.Errorf("creating folder %q: %w", name, err)
	}
	m.logger.Info("created company folder", "folder_name", name, "folder_id", folderID)

	if m.shareEmail != "" {
		err := m.policy.Execute(ctx, func(ctx context.Context) error {
			return m.client.GrantWriter(ctx, folderID, m.shareEmail)
		}, Classify)
		if err != nil {
			m.logger.Warn("failed to share folder", "folder_id", folderID, "error", err)
		}
	}
	return folderID, nil
}

// MaterializeDocument copies the template into the folder and substitutes the
// section placeholders with the research content. Sections absent from the
// result keep their template placeholder. Returns the document ID and the
// revision token after the substitution pass.
func (m *Materializer) MaterializeDocument(ctx context.Context, folderID, docName string, content models.ResearchResult) (string, string, error) {
	docID, err := retry.Do(ctx, m.policy, func(ctx context.Context) (string, error) {
		return m.client.CopyFile(ctx, m.templateDocID, docName, folderID)
	}, Classify)
	if err != nil {
		return "", "", fmt.Errorf("copying template: %w", err)
	}

	replacements := make(map[string]string)
	for _, key := range prompt.SectionKeys {
		if text := content.Section(key); text != "" {
			replacements["{{"+key+"}}"] = text
		}
	}

	if len(replacements) == 0 {
		m.logger.Warn("research result has no populated sections", "doc_id", docID)
		return docID, "1", nil
	}

	err = m.policy.Execute(ctx, func(ctx context.Context) error {
		return m.client.ReplaceText(ctx, docID, replacements)
	}, Classify)
	if err != nil {
		return "", "", fmt.Errorf("replacing placeholders in %s: %w", docID, err)
	}

	revisionID, err := retry.Do(ctx, m.policy, func(ctx context.Context) (string, error) {
		return m.client.DocumentRevision(ctx, docID)
	}, Classify)
	if err != nil {
		return "", "", fmt.Errorf("reading revision of %s: %w", docID, err)
	}

	m.logger.Info("materialized document",
		"doc_id", docID, "revision_id", revisionID, "sections", len(replacements))
	return docID, revisionID, nil
}

// snapshot is the on-disk schema of the JSON artifact kept beside each
// document.
type snapshot struct {
	DocID          string                `json:"doc_id"`
	Version        int                   `json:"version"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
	Context        map[string]any        `json:"gtm_context,omitempty"`
	ResearchResult models.ResearchResult `json:"research_result"`
}

// SnapshotName derives the snapshot file name from its document.
func SnapshotName(docID string) string {
	return docID + "-snapshot.json"
}

// PersistSnapshot writes the research result and its input context next to
// the document as "{docID}-snapshot.json". A fresh snapshot starts at version
// 1; when one already exists its content is replaced and its version bumped.
// Returns the resulting version.
func (m *Materializer) PersistSnapshot(ctx context.Context, folderID, docID string, content models.ResearchResult, contextData map[string]any) (int, error) {
	name := SnapshotName(docID)

	fileID, err := retry.Do(ctx, m.policy, func(ctx context.Context) (string, error) {
		return m.client.FindFile(ctx, name, folderID)
	}, Classify)
	if err != nil {
		return 0, fmt.Errorf("finding snapshot %q: %w", name, err)
	}

	now := m.now().UTC()
	snap := snapshot{
		DocID:          docID,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
		Context:        contextData,
		ResearchResult: content,
	}

	if fileID == "" {
		payload, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return 0, fmt.Errorf("encoding snapshot: %w", err)
		}
		_, err = retry.Do(ctx, m.policy, func(ctx context.Context) (string, error) {
			return m.client.CreateJSONFile(ctx, name, folderID, payload)
		}, Classify)
		if err != nil {
			return 0, fmt.Errorf("creating snapshot %q: %w", name, err)
		}
		return snap.Version, nil
	}

	existing, err := retry.Do(ctx, m.policy, func(ctx context.Context) ([]byte, error) {
		return m.client.DownloadFile(ctx, fileID)
	}, Classify)
	if err != nil {
		return 0, fmt.Errorf("downloading snapshot %q: %w", name, err)
	}

	var prev snapshot
	if err := json.Unmarshal(existing, &prev); err != nil {
		// Unreadable snapshot content restarts the version sequence.
		m.logger.Warn("existing snapshot is not valid JSON, overwriting", "file_id", fileID, "error", err)
		prev.Version = 0
	}
	snap.Version = prev.Version + 1
	if !prev.CreatedAt.IsZero() {
		snap.CreatedAt = prev.CreatedAt
	}

	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("encoding snapshot: %w", err)
	}
	err = m.policy.Execute(ctx, func(ctx context.Context) error {
		return m.client.UpdateJSONFile(ctx, fileID, payload)
	}, Classify)
	if err != nil {
		return 0, fmt.Errorf("updating snapshot %q: %w", name, err)
	}
	return snap.Version, nil
}
