// Package pii detects and reversibly tokenizes personally identifiable
// information before payloads cross a tenancy or vendor boundary, and
// restores it once a response returns to an internal tool.
//
// Detection ordering matters: bank-account and credit-card patterns
// overlap on plain digit runs, so the category order below is fixed and
// must not be reshuffled — the first category to match a given substring
// wins (§9 design note).
package pii

import "regexp"

// Category identifies a PII pattern family.
type Category string

// Built-in categories, in fixed detection order.
const (
	CategoryEmail        Category = "email"
	CategoryPhone        Category = "phone"
	CategorySSN          Category = "ssn"
	CategoryCreditCard   Category = "credit_card"
	CategoryIPv4         Category = "ipv4"
	CategoryDOB          Category = "date_of_birth"
	CategoryAPIKey       Category = "api_key"
	CategoryPassport     Category = "passport"
	CategoryBankAccount  Category = "bank_account"
)

// pattern pairs a category with its compiled matcher.
type pattern struct {
	category Category
	re       *regexp.Regexp
}

// orderedPatterns is the fixed, source-preserving detection order. Credit
// card is checked before bank account because a 16-digit card number would
// otherwise also satisfy a loose bank-account digit-run pattern.
var orderedPatterns = []pattern{
	{CategoryEmail, regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)},
	{CategoryPhone, regexp.MustCompile(`\+?1?[-.\s]?\(?\d{3}\)?[-.\s]\d{3}[-.\s]\d{4}\b`)},
	{CategorySSN, regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{CategoryCreditCard, regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`)},
	{CategoryIPv4, regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`)},
	{CategoryDOB, regexp.MustCompile(`\b(?:19|20)\d{2}[-/](?:0[1-9]|1[0-2])[-/](?:0[1-9]|[12]\d|3[01])\b`)},
	{CategoryAPIKey, regexp.MustCompile(`\b(?:sk|pk|key|api)[-_][A-Za-z0-9]{16,64}\b`)},
	{CategoryPassport, regexp.MustCompile(`\b[A-Z]{1,2}\d{6,9}\b`)},
	{CategoryBankAccount, regexp.MustCompile(`\b\d{8,17}\b`)},
}
