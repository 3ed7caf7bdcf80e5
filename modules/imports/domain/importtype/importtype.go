package importtype

import (
	"fmt"
	"strings"
)

// ImportType is the closed set of supported file kinds. Field tables below
// are keyed by variant so the mapper and validator are checked against the
// full set rather than loose string maps.
type ImportType string

const (
	Accounts   ImportType = "accounts"
	SkipTrace  ImportType = "skip_trace"
	Portfolios ImportType = "portfolios"
	Clients    ImportType = "clients"
	Agencies   ImportType = "agencies"
)

func All() []ImportType {
	return []ImportType{Accounts, SkipTrace, Portfolios, Clients, Agencies}
}

func Parse(raw string) (ImportType, error) {
	t := ImportType(strings.ToLower(strings.TrimSpace(raw)))
	switch t {
	case Accounts, SkipTrace, Portfolios, Clients, Agencies:
		return t, nil
	}
	return "", fmt.Errorf("unsupported import type: %q", raw)
}

// Field names a slot in the canonical schema that source columns map onto.
type Field string

const (
	FieldAccountNumber     Field = "account_number"
	FieldNationalID        Field = "national_id"
	FieldFullName          Field = "full_name"
	FieldFirstName         Field = "first_name"
	FieldLastName          Field = "last_name"
	FieldDateOfBirth       Field = "date_of_birth"
	FieldDeceased          Field = "deceased"
	FieldDeceasedDate      Field = "deceased_date"
	FieldCurrentBalance    Field = "current_balance"
	FieldOriginalBalance   Field = "original_balance"
	FieldOpenDate          Field = "open_date"
	FieldChargeOffDate     Field = "charge_off_date"
	FieldLastPaymentDate   Field = "last_payment_date"
	FieldLastPaymentAmount Field = "last_payment_amount"
	FieldStatus            Field = "status"
	FieldOriginalCreditor  Field = "original_creditor"
	FieldPortfolioName     Field = "portfolio_name"
	FieldClientName        Field = "client_name"
	FieldAgencyName        Field = "agency_name"
	FieldContactName       Field = "contact_name"
	FieldPurchaseDate      Field = "purchase_date"
	FieldPurchasePrice     Field = "purchase_price"
	FieldFaceValue         Field = "face_value"
	FieldAddressLine1      Field = "address_line1"
	FieldAddressLine2      Field = "address_line2"
	FieldCity              Field = "city"
	FieldState             Field = "state"
	FieldZip               Field = "zip"
	FieldPhone             Field = "phone"
	FieldPhoneType         Field = "phone_type"
	FieldEmail             Field = "email"
	FieldRelativeName      Field = "relative_name"
	FieldRelativeRelation  Field = "relative_relationship"
	FieldRelativePhone     Field = "relative_phone"
	FieldVehicleVIN        Field = "vehicle_vin"
	FieldVehicleMake       Field = "vehicle_make"
	FieldVehicleModel      Field = "vehicle_model"
	FieldVehicleYear       Field = "vehicle_year"
	FieldEmployerName      Field = "employer_name"
	FieldEmployerPhone     Field = "employer_phone"
	FieldBankruptcyCase    Field = "bankruptcy_case_number"
	FieldBankruptcyChapter Field = "bankruptcy_chapter"
	FieldBankruptcyFiled   Field = "bankruptcy_filed_date"
	FieldBankruptcyStatus  Field = "bankruptcy_status"
)

var requiredFields = map[ImportType][]Field{
	Accounts: {
		FieldAccountNumber,
		FieldNationalID,
		FieldFullName,
		FieldCurrentBalance,
	},
	SkipTrace: {
		FieldNationalID,
	},
	Portfolios: {
		FieldPortfolioName,
	},
	Clients: {
		FieldClientName,
	},
	Agencies: {
		FieldAgencyName,
	},
}

var optionalFields = map[ImportType][]Field{
	Accounts: {
		FieldFirstName, FieldLastName, FieldDateOfBirth,
		FieldOriginalBalance, FieldOpenDate, FieldChargeOffDate,
		FieldLastPaymentDate, FieldLastPaymentAmount, FieldStatus,
		FieldOriginalCreditor, FieldPortfolioName,
		FieldAddressLine1, FieldAddressLine2, FieldCity, FieldState, FieldZip,
		FieldPhone, FieldEmail,
	},
	SkipTrace: {
		FieldFullName, FieldFirstName, FieldLastName, FieldDateOfBirth,
		FieldDeceased, FieldDeceasedDate,
		FieldAddressLine1, FieldAddressLine2, FieldCity, FieldState, FieldZip,
		FieldPhone, FieldPhoneType, FieldEmail,
		FieldRelativeName, FieldRelativeRelation, FieldRelativePhone,
		FieldVehicleVIN, FieldVehicleMake, FieldVehicleModel, FieldVehicleYear,
		FieldEmployerName, FieldEmployerPhone,
		FieldBankruptcyCase, FieldBankruptcyChapter, FieldBankruptcyFiled, FieldBankruptcyStatus,
	},
	Portfolios: {
		FieldClientName, FieldPurchaseDate, FieldPurchasePrice, FieldFaceValue,
	},
	Clients: {
		FieldContactName, FieldEmail, FieldPhone,
		FieldAddressLine1, FieldCity, FieldState, FieldZip,
	},
	Agencies: {
		FieldContactName, FieldEmail, FieldPhone,
		FieldAddressLine1, FieldCity, FieldState, FieldZip,
	},
}

func (t ImportType) Required() []Field {
	return append([]Field(nil), requiredFields[t]...)
}

func (t ImportType) Optional() []Field {
	return append([]Field(nil), optionalFields[t]...)
}

// Fields returns required then optional canonical fields for the type.
func (t ImportType) Fields() []Field {
	return append(t.Required(), t.Optional()...)
}

func (t ImportType) Knows(f Field) bool {
	for _, known := range t.Fields() {
		if known == f {
			return true
		}
	}
	return false
}
