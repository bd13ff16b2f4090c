package registry

var catalog = map[string]Entity{
	"grants": {
		Name:        "grants",
		Root:        "grants",
		InputType:   "GrantInput",
		Description: "Public grants awarded to beneficiaries",
		IDField:     "id",
		Filters: []FilterDef{
			{Name: "year", Label: "Year", Param: "year", Type: InputNumber, Description: "Award year", Example: "2024"},
			{Name: "call_code", Label: "Call code", Param: "call_code", Type: InputText, Description: "Code of the grant call", Example: "716350"},
			{Name: "body_id", Label: "Granting body", Param: "body_id", Type: InputText, Description: "Identifier of the awarding body"},
			{Name: "beneficiary_id", Label: "Beneficiary", Param: "beneficiary_id", Type: InputText, Description: "Identifier of the beneficiary"},
			{Name: "beneficiary_type", Label: "Beneficiary type", Param: "beneficiary_type", Type: InputSelect, Options: []Option{
				{Value: "company", Label: "Company"},
				{Value: "person", Label: "Natural person"},
				{Value: "public_body", Label: "Public body"},
				{Value: "nonprofit", Label: "Non-profit"},
			}},
			{Name: "date_from", Label: "Granted from", Param: "date_from", Type: InputDate, Example: "2024-01-01"},
			{Name: "date_to", Label: "Granted to", Param: "date_to", Type: InputDate, Example: "2024-12-31"},
			{Name: "amount_min", Label: "Minimum amount", Param: "amount_min", Type: InputNumber, Description: "Lower bound on the granted amount", Example: "10000"},
			{Name: "amount_max", Label: "Maximum amount", Param: "amount_max", Type: InputNumber, Description: "Upper bound on the granted amount"},
			{Name: "aid_type", Label: "Aid type", Param: "aid_type", Type: InputSelect, Options: []Option{
				{Value: "subsidy", Label: "Subsidy"},
				{Value: "loan", Label: "Loan"},
				{Value: "guarantee", Label: "Guarantee"},
				{Value: "tax_benefit", Label: "Tax benefit"},
			}},
			{Name: "with_projects", Label: "Only with project description", Param: "with_projects", Type: InputCheckbox},
		},
		Fields: []FieldDef{
			{Path: "id", Description: "Grant identifier"},
			{Path: "call_code", Description: "Call code"},
			{Path: "granted_on", Description: "Award date"},
			{Path: "amount", Description: "Granted amount"},
			{Path: "project_description", Description: "Project description"},
			{Path: "budget_program", Description: "Budget program"},
			{Path: "aid_type", Description: "Aid instrument"},
			{Path: "year", Description: "Award year"},
			{Path: "recipient.id", Description: "Beneficiary identifier"},
			{Path: "recipient.tax_id", Description: "Beneficiary tax id"},
			{Path: "recipient.name", Description: "Beneficiary name"},
			{Path: "recipient.type", Description: "Beneficiary type"},
			{Path: "body.id", Description: "Awarding body identifier"},
			{Path: "body.code", Description: "Awarding body code"},
			{Path: "body.name", Description: "Awarding body name"},
			{Path: "call.id", Description: "Call identifier"},
			{Path: "call.code", Description: "Call code"},
			{Path: "call.title", Description: "Call title"},
		},
		DefaultFields: []string{"id", "call_code", "granted_on", "amount", "recipient.tax_id", "recipient.name"},
	},
	"beneficiaries": {
		Name:        "beneficiaries",
		Root:        "beneficiaries",
		InputType:   "BeneficiaryInput",
		Description: "Grant beneficiaries",
		IDField:     "id",
		Filters: []FilterDef{
			{Name: "tax_id", Label: "Tax id", Param: "tax_id", Type: InputText, Example: "B12345678"},
			{Name: "tax_id_prefix", Label: "Tax id prefix", Param: "tax_id_prefix", Type: InputText, Example: "B"},
			{Name: "name_contains", Label: "Name contains", Param: "name_contains", Type: InputText},
			{Name: "legal_form", Label: "Legal form", Param: "legal_form", Type: InputSelect, Options: []Option{
				{Value: "sa", Label: "Public limited company"},
				{Value: "sl", Label: "Limited company"},
				{Value: "association", Label: "Association"},
				{Value: "foundation", Label: "Foundation"},
			}},
		},
		Fields: []FieldDef{
			{Path: "id", Description: "Beneficiary identifier"},
			{Path: "tax_id", Description: "Tax id"},
			{Path: "name", Description: "Name"},
			{Path: "type", Description: "Beneficiary type"},
			{Path: "legal_form", Description: "Legal form"},
		},
		DefaultFields: []string{"id", "tax_id", "name", "type"},
	},
}
