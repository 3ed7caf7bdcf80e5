package validation

import (
	"github.com/ledgerline/collect/modules/imports/domain/importtype"
)

type RuleKind string

const (
	// RuleRequired fails when the field is absent or blank.
	RuleRequired RuleKind = "required"
	// RuleNumeric accepts decimal values with optional $ and thousands separators.
	RuleNumeric RuleKind = "numeric"
	// RuleDate accepts ISO (2006-01-02) and US (01/02/2006) dates.
	RuleDate RuleKind = "date"
	// RuleEmail is a light structural check, not full RFC validation.
	RuleEmail RuleKind = "email"
	// RuleEnum restricts the value to a closed set, case-insensitively.
	RuleEnum RuleKind = "enum"
	// RuleNationalID requires the value to normalize to a 9-digit key.
	RuleNationalID RuleKind = "national_id"
	// RuleBool accepts true/false/yes/no/1/0.
	RuleBool RuleKind = "bool"
	// RuleNotBefore fails when Field (a date) precedes Other (another date).
	// Only applied when both fields are present.
	RuleNotBefore RuleKind = "not_before"
)

type Rule struct {
	Field importtype.Field
	Kind  RuleKind
	Enum  []string
	Other importtype.Field
}

var rulesByType = map[importtype.ImportType][]Rule{
	importtype.Accounts: {
		{Field: importtype.FieldAccountNumber, Kind: RuleRequired},
		{Field: importtype.FieldNationalID, Kind: RuleRequired},
		{Field: importtype.FieldNationalID, Kind: RuleNationalID},
		{Field: importtype.FieldFullName, Kind: RuleRequired},
		{Field: importtype.FieldCurrentBalance, Kind: RuleRequired},
		{Field: importtype.FieldCurrentBalance, Kind: RuleNumeric},
		{Field: importtype.FieldOriginalBalance, Kind: RuleNumeric},
		{Field: importtype.FieldLastPaymentAmount, Kind: RuleNumeric},
		{Field: importtype.FieldDateOfBirth, Kind: RuleDate},
		{Field: importtype.FieldOpenDate, Kind: RuleDate},
		{Field: importtype.FieldChargeOffDate, Kind: RuleDate},
		{Field: importtype.FieldLastPaymentDate, Kind: RuleDate},
		{Field: importtype.FieldEmail, Kind: RuleEmail},
		{Field: importtype.FieldStatus, Kind: RuleEnum, Enum: []string{"active", "paid", "disputed", "closed"}},
		{Field: importtype.FieldChargeOffDate, Kind: RuleNotBefore, Other: importtype.FieldOpenDate},
		{Field: importtype.FieldLastPaymentDate, Kind: RuleNotBefore, Other: importtype.FieldOpenDate},
	},
	importtype.SkipTrace: {
		{Field: importtype.FieldNationalID, Kind: RuleRequired},
		{Field: importtype.FieldNationalID, Kind: RuleNationalID},
		{Field: importtype.FieldDateOfBirth, Kind: RuleDate},
		{Field: importtype.FieldDeceased, Kind: RuleBool},
		{Field: importtype.FieldDeceasedDate, Kind: RuleDate},
		{Field: importtype.FieldEmail, Kind: RuleEmail},
		{Field: importtype.FieldPhoneType, Kind: RuleEnum, Enum: []string{"home", "work", "mobile"}},
		{Field: importtype.FieldVehicleYear, Kind: RuleNumeric},
		{Field: importtype.FieldBankruptcyChapter, Kind: RuleEnum, Enum: []string{"7", "11", "13"}},
		{Field: importtype.FieldBankruptcyFiled, Kind: RuleDate},
		{Field: importtype.FieldDeceasedDate, Kind: RuleNotBefore, Other: importtype.FieldDateOfBirth},
	},
	importtype.Portfolios: {
		{Field: importtype.FieldPortfolioName, Kind: RuleRequired},
		{Field: importtype.FieldPurchaseDate, Kind: RuleDate},
		{Field: importtype.FieldPurchasePrice, Kind: RuleNumeric},
		{Field: importtype.FieldFaceValue, Kind: RuleNumeric},
	},
	importtype.Clients: {
		{Field: importtype.FieldClientName, Kind: RuleRequired},
		{Field: importtype.FieldEmail, Kind: RuleEmail},
	},
	importtype.Agencies: {
		{Field: importtype.FieldAgencyName, Kind: RuleRequired},
		{Field: importtype.FieldEmail, Kind: RuleEmail},
	},
}

// RulesFor returns the rule set applied to every row of the import type.
func RulesFor(t importtype.ImportType) []Rule {
	return append([]Rule(nil), rulesByType[t]...)
}
