package form

import (
	"sort"

	"openadmin/internal/persistence"
)

// Result collects the errors of one form submission.
type Result struct {
	FieldErrors  map[string][]string `json:"fieldErrors,omitempty"`
	GlobalErrors []string            `json:"globalErrors,omitempty"`
}

func (r *Result) HasErrors() bool {
	return r != nil && (len(r.FieldErrors) > 0 || len(r.GlobalErrors) > 0)
}

// FieldNames returns the fields with errors in sorted order.
func (r *Result) FieldNames() []string {
	names := make([]string, 0, len(r.FieldErrors))
	for n := range r.FieldErrors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validator maps persistence validation failures onto entity forms.
type Validator struct{}

func NewValidator() *Validator { return &Validator{} }

// Validate copies the validation failures of ent into a Result and onto ef.
// A nil ef only produces the Result.
func (v *Validator) Validate(ef *EntityForm, ent *persistence.Entity) *Result {
	res := &Result{FieldErrors: map[string][]string{}}
	if ent == nil {
		return res
	}
	for field, codes := range ent.PropertyValidationErrors {
		if len(codes) > 0 {
			res.FieldErrors[field] = append([]string(nil), codes...)
		}
	}
	res.GlobalErrors = append(res.GlobalErrors, ent.GlobalValidationErrors...)
	if ent.ValidationFailure && len(res.FieldErrors) == 0 && len(res.GlobalErrors) == 0 {
		res.GlobalErrors = append(res.GlobalErrors, "save.unsuccessful")
	}
	if ef != nil && res.HasErrors() {
		ef.SetErrors(res.FieldErrors, res.GlobalErrors)
	}
	return res
}
