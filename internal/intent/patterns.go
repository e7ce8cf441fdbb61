package intent

import "github.com/Veraticus/the-books-must-balance/internal/model"

// DefaultPatterns returns the built-in command patterns.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{
			Name:       "Help",
			Intent:     model.IntentHelp,
			Regex:      `^\s*(help|\?|what can you do|how do i)\b`,
			Priority:   130,
			Confidence: 0.95,
		},
		{
			Name:       "New Entity",
			Intent:     model.IntentCreateEntity,
			Regex:      `\b(add|create|new|register)\s+(a\s+|new\s+)*(customer|supplier|vendor|party|entity|contractor|professional|bank\s+account)\b`,
			Priority:   120,
			Confidence: 0.95,
		},
		{
			Name:       "Sales Invoice",
			Intent:     model.IntentCreateSalesInvoice,
			Regex:      `\b(sales?\s+invoice|invoice\s+(to|for)|bill(ed)?\s+to|sold\s+(goods|services)?)\b`,
			Priority:   110,
			Confidence: 0.92,
		},
		{
			Name:       "Purchase Invoice",
			Intent:     model.IntentCreatePurchaseInvoice,
			Regex:      `\b(purchase\s+(invoice|bill)|bought|purchased|bill\s+from|invoice\s+from)\b`,
			Priority:   110,
			Confidence: 0.92,
		},
		{
			Name:       "Report",
			Intent:     model.IntentQueryReport,
			Regex:      `\b(report|statement|p\s*&\s*l|profit\s+(and|&)\s+loss|balance\s+sheet|trial\s+balance|gst\s*r?\s*returns?|day\s*book)\b`,
			Priority:   100,
			Confidence: 0.90,
		},
		{
			Name:       "Receipt From",
			Intent:     model.IntentCreateReceipt,
			Regex:      `\b(received|receive|got|collected|receipt\s+of)\b.*\bfrom\b`,
			Priority:   95,
			Confidence: 0.95,
		},
		{
			Name:       "Payment To",
			Intent:     model.IntentCreatePayment,
			Regex:      `\b(paid|pay|payment\s+of|sent|transferred)\b.*\bto\b`,
			Priority:   95,
			Confidence: 0.95,
		},
		{
			Name:       "Balance",
			Intent:     model.IntentQueryBalance,
			Regex:      `\b(balance|outstanding|how\s+much\s+(do|does|did)\b.*\bowe)\b`,
			Priority:   90,
			Confidence: 0.90,
		},
		{
			Name:       "Receipt",
			Intent:     model.IntentCreateReceipt,
			Regex:      `\b(received|collected|receipt)\b`,
			Priority:   50,
			Confidence: 0.75,
		},
		{
			Name:       "Payment",
			Intent:     model.IntentCreatePayment,
			Regex:      `\b(paid|payment)\b`,
			Priority:   50,
			Confidence: 0.75,
		},
	}
}
