// Package prompt builds research inputs for the deep research provider and
// defines the section vocabulary shared with the document template.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yoyaba/gtmdocs/pkg/models"
)

// SectionKeys lists every placeholder the document template carries, in
// template order. The provider is instructed to return a JSON object with
// exactly these keys; the materializer replaces `{{KEY}}` tokens for the keys
// that are present.
var SectionKeys = []string{
	"DOC_TITLE",
	"INTRO",
	"PRICING_PACKAGING",
	"GTM_MOTION",
	"TOUCH_MODEL",
	"ICP",
	"METRICS",
	"FINANCIALS",
	"FINANCING",
	"MARKET_MATURITY",
	"STAKEHOLDERS",
	"SUMMARY_TABLE",
}

var sectionDescriptions = map[string]string{
	"DOC_TITLE":         `"[Company Name] Go-To-Market Strategy Overview"`,
	"INTRO":             "Executive summary and overview (200-400 words)",
	"PRICING_PACKAGING": "Pricing strategy and packaging approach (200-400 words)",
	"GTM_MOTION":        "Go-to-market strategy and customer acquisition (200-400 words)",
	"TOUCH_MODEL":       "Customer engagement and sales process (200-400 words)",
	"ICP":               "Ideal customer profile analysis (200-400 words)",
	"METRICS":           "Key performance indicators and measurement (200-400 words)",
	"FINANCIALS":        "Financial metrics and projections (200-400 words)",
	"FINANCING":         "Capital structure and funding strategy (200-400 words)",
	"MARKET_MATURITY":   "Market analysis and competitive positioning (200-400 words)",
	"STAKEHOLDERS":      "Key decision makers and influencers (200-400 words)",
	"SUMMARY_TABLE":     "Executive summary table",
}

// Builder constructs research inputs. All methods are pure functions with no
// side effects. Zero value is ready to use.
type Builder struct{}

// BuildResearchInput renders the deep research instruction text for one
// company, embedding the raw company and enrichment payloads.
func (b Builder) BuildResearchInput(in models.ResearchInput) string {
	name := companyName(in.Company)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Research and analyze the go-to-market strategy for %s.\n\n", name)

	fmt.Fprintf(&sb, "COMPANY DATA:\n%s\n\n", indentJSON(in.Company))
	fmt.Fprintf(&sb, "ENRICHED DATA:\n%s\n\n", indentJSON(in.EnrichedData))
	fmt.Fprintf(&sb, "ACCOUNT STRATEGIST INPUT:\n%s\n\n", gtmDescription(in.Company))

	sb.WriteString(`RESEARCH TASK:
Conduct comprehensive research on this company's go-to-market strategy using the following framework:

GTM ANALYSIS FRAMEWORK:
1. Business Model: How does the company make money? (Subscription/Consumption/Hybrid/Ownership)
2. Financing: What's the capital structure? (VC backed/PE case/Bootstrapping)
3. Market Maturity: What stage is the market in? (Nascent/Growing/Mature/Declining)
4. Products: What are the core offerings and pricing models?
5. ICPs: Who are the ideal customers? What touch levels and activities work for each?
6. Metrics: What are the key performance indicators?

RESEARCH REQUIREMENTS:
- Search for recent news, funding announcements, and company updates
- Find information about their products, pricing, and market positioning
- Research their target customers and go-to-market approach
- Look for financial data, growth metrics, and competitive analysis
- Include specific figures, trends, and measurable outcomes
- Prioritize reliable sources: company websites, press releases, industry reports, financial filings

OUTPUT FORMAT:
Generate a comprehensive GTM strategy document in JSON format with these sections:
`)
	for _, key := range SectionKeys {
		fmt.Fprintf(&sb, "- %s: %s\n", key, sectionDescriptions[key])
	}

	sb.WriteString(`
CONTENT REQUIREMENTS:
- Each section should be 200-400 words with detailed analysis
- Use inline markdown links for every claim and citation
- Focus on describing the client's current GTM strategy, not proposing new strategies
- Write in a professional, analytical tone suitable for business strategy documents
- Include specific data points, metrics, and examples where available
- Note any inferred/estimated points clearly

Return the analysis as a JSON object with the exact keys specified above.
`)

	return sb.String()
}

// EstimateTokens approximates the token count of text. One token is roughly
// four bytes of English text; good enough for usage accounting.
func EstimateTokens(text string) int {
	return len(text) / 4
}

func companyName(company map[string]any) string {
	if name, ok := company["name"].(string); ok && name != "" {
		return name
	}
	return "this company"
}

func gtmDescription(company map[string]any) string {
	if desc, ok := company["gtm_description"].(string); ok && desc != "" {
		return desc
	}
	return "No GTM description provided"
}

func indentJSON(v map[string]any) string {
	if v == nil {
		return "{}"
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}
