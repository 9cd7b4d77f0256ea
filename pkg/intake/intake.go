// Package intake validates an inbound Intent before the router creates
// a Task from it (spec §6 Intake intent schema). Validation tags mirror
// the field constraints the schema states in prose (closed type
// enumeration, confidence in [0,1]); no pack repository hand-rolls this
// kind of struct validation; gin's request binding pulls in
// go-playground/validator/v10 transitively in the teacher, so this
// package is the first direct caller of it in this codebase.
package intake

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/e2eforge/forge/pkg/apperr"
	"github.com/e2eforge/forge/pkg/model"
)

// intentDTO mirrors model.Intent with validator tags; model.Intent
// itself stays tag-free since pkg/model has no ecosystem dependencies.
type intentDTO struct {
	Type                model.IntentType `validate:"required,oneof=create_test run_test fix_failure validate status build_feature unknown"`
	RawCommand          string           `validate:"required"`
	Confidence          float64          `validate:"gte=0,lte=1"`
	NeedsClarification  bool
	ClarificationPrompt string `validate:"required_if=NeedsClarification true"`
}

var validate = validator.New()

// Validate checks in against the intake schema (spec §6) and returns a
// simplified apperr.KindInput error describing the first violation.
func Validate(in model.Intent) error {
	dto := intentDTO{
		Type:                in.Type,
		RawCommand:          in.RawCommand,
		Confidence:          in.Confidence,
		NeedsClarification:  in.NeedsClarification,
		ClarificationPrompt: in.ClarificationPrompt,
	}
	if err := validate.Struct(dto); err != nil {
		return apperr.New(apperr.KindInput, simplify(err), err)
	}
	if err := validateSlots(in); err != nil {
		return apperr.New(apperr.KindInput, err.Error(), err)
	}
	return nil
}

// requiredSlots lists the slot keys each intent type needs present and
// non-empty (spec §6: "slots: {feature?, test_path?, task_id?,
// high_priority?, scope?}" — presence requirements vary by type).
var requiredSlots = map[model.IntentType][]string{
	model.IntentCreateTest:   {"feature"},
	model.IntentBuildFeature: {"feature"},
	model.IntentRunTest:      {"test_path"},
	model.IntentFixFailure:   {"task_id"},
	model.IntentValidate:     {"task_id"},
}

func validateSlots(in model.Intent) error {
	needed, ok := requiredSlots[in.Type]
	if !ok {
		return nil
	}
	for _, key := range needed {
		if in.SlotString(key) == "" {
			return fmt.Errorf("intent type %q requires a non-empty %q slot", in.Type, key)
		}
	}
	return nil
}

func simplify(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return "invalid intent"
	}
	first := verrs[0]
	return fmt.Sprintf("field %q failed validation: %s", first.Field(), first.Tag())
}
