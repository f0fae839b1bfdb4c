package prompt

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/haasonsaas/nexus-core/internal/nexuserr"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

// ToolDescriptor is the slice of tool metadata the Tools section needs.
type ToolDescriptor struct {
	ID          string
	Description string
}

// Assembled is the resolver output: the system prompt plus the snapshot
// that makes the run reproducible.
type Assembled struct {
	System   string
	Snapshot models.PromptSnapshot
}

// Resolver assembles the system prompt from the three active layers, the
// run's tool list, and retrieved memories.
type Resolver struct {
	store *Store
}

// NewResolver creates a resolver over a layer store.
func NewResolver(store *Store) *Resolver {
	return &Resolver{store: store}
}

// varPattern matches {{name}} placeholders in layer content.
var varPattern = regexp.MustCompile(`\{\{([a-zA-Z0-9_.-]+)\}\}`)

// Substitute replaces {{name}} placeholders from vars. Unknown names pass
// through unchanged so layers stay debuggable.
func Substitute(content string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(content, func(match string) string {
		name := match[2 : len(match)-2]
		if value, ok := vars[name]; ok {
			return value
		}
		return match
	})
}

// Resolve produces the assembled system prompt with its five labeled
// sections, in order: Identity, Instructions, Available Tools, Relevant
// Context, Safety & Boundaries. Fails with PROMPT_NOT_CONFIGURED unless
// all three layers have an active version.
func (r *Resolver) Resolve(ctx context.Context, projectID models.ProjectID, tools []ToolDescriptor, memories []models.MemoryHit, vars map[string]string) (Assembled, error) {
	layers, err := r.store.ActiveLayers(ctx, projectID)
	if err != nil {
		return Assembled{}, err
	}

	identity, okI := layers[models.LayerIdentity]
	instructions, okN := layers[models.LayerInstructions]
	safety, okS := layers[models.LayerSafety]
	if !okI || !okN || !okS {
		return Assembled{}, nexuserr.Newf(nexuserr.CodePromptNotConfigured,
			"project %s has %d of 3 active prompt layers", projectID, len(layers))
	}

	toolsSection := renderToolsSection(tools)
	contextSection := renderContextSection(memories)

	var b strings.Builder
	writeSection(&b, "Identity", Substitute(identity.Content, vars))
	writeSection(&b, "Instructions", Substitute(instructions.Content, vars))
	writeSection(&b, "Available Tools", toolsSection)
	writeSection(&b, "Relevant Context", contextSection)
	writeSection(&b, "Safety & Boundaries", Substitute(safety.Content, vars))

	return Assembled{
		System: strings.TrimRight(b.String(), "\n"),
		Snapshot: models.PromptSnapshot{
			IdentityLayerID:      identity.ID,
			IdentityVersion:      identity.Version,
			InstructionsLayerID:  instructions.ID,
			InstructionsVersion:  instructions.Version,
			SafetyLayerID:        safety.ID,
			SafetyVersion:        safety.Version,
			ToolsSectionSHA256:   digest(toolsSection),
			ContextSectionSHA256: digest(contextSection),
		},
	}, nil
}

func writeSection(b *strings.Builder, label, content string) {
	b.WriteString("## ")
	b.WriteString(label)
	b.WriteString("\n\n")
	b.WriteString(strings.TrimSpace(content))
	b.WriteString("\n\n")
}

func renderToolsSection(tools []ToolDescriptor) string {
	if len(tools) == 0 {
		return "No tools are available for this conversation."
	}
	var b strings.Builder
	b.WriteString("You may call the following tools:\n")
	for _, t := range tools {
		fmt.Fprintf(&b, "- %s: %s\n", t.ID, t.Description)
	}
	return b.String()
}

func renderContextSection(memories []models.MemoryHit) string {
	if len(memories) == 0 {
		return "No stored context for this conversation."
	}
	var b strings.Builder
	b.WriteString("Relevant facts from memory:\n")
	for _, hit := range memories {
		fmt.Fprintf(&b, "- %s\n", hit.Entry.Content)
	}
	return b.String()
}

func digest(section string) string {
	sum := sha256.Sum256([]byte(section))
	return hex.EncodeToString(sum[:])
}
