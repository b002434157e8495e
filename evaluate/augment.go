package evaluate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/attacklens/attacklens/attack"
	"github.com/attacklens/attacklens/ingest"
	"github.com/attacklens/attacklens/llm"
	"github.com/attacklens/attacklens/taskerr"
)

// LLM prompt sizing, in estimated tokens (one token per four characters).
const (
	llmMaxDocumentTokens = 6000
	llmSubChunkTokens    = 3000
	llmSubChunkOverlap   = 200

	// A technique reported by multiple sub-chunks earns this per extra
	// sub-chunk, capped at 100.
	llmRepeatBonus = 5
)

const llmSystemPrompt = `You are a cyber threat intelligence analyst. Given a document excerpt and a list of MITRE ATT&CK techniques, identify which techniques the document describes. Respond with JSON only, in the form {"matches":[{"techniqueId":"T1566","techniqueName":"Phishing","confidenceScore":85,"matchedText":"...","rationale":"..."}]}. Only report techniques from the provided list. Confidence is 0-100.`

// llmFinding is one technique reported by the model.
type llmFinding struct {
	TechniqueID   string `json:"techniqueId"`
	TechniqueName string `json:"techniqueName"`
	Confidence    int    `json:"confidenceScore"`
	MatchedText   string `json:"matchedText"`
	Rationale     string `json:"rationale"`
}

type llmResponse struct {
	Matches []llmFinding `json:"matches"`
}

// augment sends the document to the remote model and folds its findings into
// the local matches. Documents over the token budget are split into
// overlapping sub-chunks analyzed independently; a technique confirmed by
// several sub-chunks gains confidence. Techniques already matched locally
// keep whichever confidence is higher.
func (e *Evaluator) augment(ctx context.Context, catalog *attack.Catalog, doc *ingest.Document, local []Match) ([]Match, error) {
	techniqueList := compactTechniqueList(catalog)

	findings := make(map[attack.TechniqueID]llmFinding)
	repeats := make(map[attack.TechniqueID]int)

	for _, part := range splitForLLM(doc.Text) {
		resp, err := e.completeSubChunk(ctx, techniqueList, part)
		if err != nil {
			return nil, err
		}
		for _, f := range resp.Matches {
			id := attack.TechniqueID(strings.ToUpper(strings.TrimSpace(f.TechniqueID)))
			t, ok := catalog.Technique(id)
			if !ok {
				e.logger.Debug("llm reported unknown technique, dropping", "technique_id", f.TechniqueID)
				continue
			}
			id = t.ID
			repeats[id]++
			if cur, ok := findings[id]; !ok || f.Confidence > cur.Confidence {
				f.TechniqueID = string(id)
				f.TechniqueName = t.Name
				findings[id] = f
			}
		}
	}

	if len(findings) == 0 {
		return local, nil
	}

	have := make(map[attack.TechniqueID]int, len(local))
	for i, m := range local {
		have[m.TechniqueID] = i
	}

	out := local
	for id, f := range findings {
		conf := f.Confidence + llmRepeatBonus*(repeats[id]-1)
		if conf > 100 {
			conf = 100
		}
		if conf < e.cfg.MinConfidenceScore {
			continue
		}

		if i, ok := have[id]; ok {
			if conf > out[i].Confidence {
				out[i].Confidence = conf
				out[i].Source = SourceLLM
				out[i].MultiMethod = true
			}
			continue
		}

		pos := Position{}
		contextText := f.Rationale
		if idx := strings.Index(doc.Text, f.MatchedText); f.MatchedText != "" && idx >= 0 {
			pos = Position{StartChar: idx, EndChar: idx + len(f.MatchedText)}
			contextText = contextWindow(doc.Text, 0, pos, e.cfg.ContextWindowSize)
		}
		out = append(out, Match{
			TechniqueID:   id,
			TechniqueName: f.TechniqueName,
			Confidence:    conf,
			MatchedText:   f.MatchedText,
			Context:       contextText,
			Position:      pos,
			Source:        SourceLLM,
		})
	}
	return out, nil
}

func (e *Evaluator) completeSubChunk(ctx context.Context, techniqueList, text string) (*llmResponse, error) {
	const op = "evaluate.Evaluator.completeSubChunk"

	resp, err := e.llm.Complete(ctx, &llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: llmSystemPrompt},
			{Role: llm.RoleUser, Content: fmt.Sprintf("Techniques:\n%s\n\nDocument:\n%s", techniqueList, text)},
		},
		Temperature:    0.1,
		ResponseFormat: &llm.ResponseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, err
	}

	var parsed llmResponse
	if err := json.Unmarshal([]byte(stripFence(resp.Content)), &parsed); err != nil {
		return nil, taskerr.NewInternal(op, fmt.Errorf("malformed llm response: %w", err))
	}
	return &parsed, nil
}

// compactTechniqueList renders "T1566: Phishing" lines for the prompt.
func compactTechniqueList(catalog *attack.Catalog) string {
	var b strings.Builder
	for _, t := range catalog.Techniques() {
		b.WriteString(string(t.ID))
		b.WriteString(": ")
		b.WriteString(t.Name)
		b.WriteByte('\n')
	}
	return b.String()
}

// splitForLLM returns the document text as one part when it fits the token
// budget, otherwise as overlapping sub-chunks.
func splitForLLM(text string) []string {
	if estimateTokens(text) <= llmMaxDocumentTokens {
		return []string{text}
	}

	size := llmSubChunkTokens * 4
	overlap := llmSubChunkOverlap * 4

	var parts []string
	for start := 0; start < len(text); start += size - overlap {
		end := start + size
		if end >= len(text) {
			parts = append(parts, text[start:])
			break
		}
		parts = append(parts, text[start:end])
	}
	return parts
}

// estimateTokens approximates the token count as one per four characters.
func estimateTokens(text string) int {
	return len(text) / 4
}

// stripFence unwraps a ```json fenced block, which some endpoints emit even
// when asked for a bare JSON object.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
