package plan

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/nzwater/compliance-core/pkg/constants"
	"github.com/nzwater/compliance-core/pkg/serrors"
)

type CreateDTO struct {
	Title       string    `json:"title" validate:"required,max=255"`
	Description string    `json:"description" validate:"max=5000"`
	PlanType    string    `json:"planType" validate:"omitempty,oneof=DWSP WATER_SUPPLY_SAFETY_PLAN RISK_MANAGEMENT_PLAN ANNUAL_COMPLIANCE IMPROVEMENT_PLAN OTHER"`
	Elements    *Elements `json:"elements,omitempty"`
}

func (d *CreateDTO) Normalize() {
	d.Title = strings.TrimSpace(d.Title)
	d.Description = strings.TrimSpace(d.Description)
	d.PlanType = strings.ToUpper(strings.TrimSpace(d.PlanType))
}

func (d *CreateDTO) Ok() (map[string]string, bool) {
	d.Normalize()
	errs := validateStruct(d, func(field string) string {
		switch field {
		case "Title", "Description", "PlanType":
			return "Compliance.Fields." + field
		default:
			return ""
		}
	})
	if d.Elements != nil {
		mergeElementErrors(errs, d.Elements.Validate())
	}
	if len(errs) == 0 {
		return map[string]string{}, true
	}
	return errs.Messages(), false
}

func (d *CreateDTO) Type() Type {
	if d.PlanType == "" {
		return TypeDWSP
	}
	return Type(d.PlanType)
}

func (d *CreateDTO) ElementsValue() Elements {
	if d.Elements == nil {
		return Elements{}
	}
	return *d.Elements
}

// UpdateDTO is a partial update guarded by the version the client last read.
type UpdateDTO struct {
	Version     int            `json:"version" validate:"required,min=1"`
	Title       *string        `json:"title,omitempty" validate:"omitempty,min=1,max=255"`
	Description *string        `json:"description,omitempty" validate:"omitempty,max=5000"`
	PlanType    *string        `json:"planType,omitempty" validate:"omitempty,oneof=DWSP WATER_SUPPLY_SAFETY_PLAN RISK_MANAGEMENT_PLAN ANNUAL_COMPLIANCE IMPROVEMENT_PLAN OTHER"`
	Elements    *ElementsPatch `json:"elements,omitempty"`
}

func (d *UpdateDTO) Normalize() {
	if d.Title != nil {
		v := strings.TrimSpace(*d.Title)
		d.Title = &v
	}
	if d.Description != nil {
		v := strings.TrimSpace(*d.Description)
		d.Description = &v
	}
	if d.PlanType != nil {
		v := strings.ToUpper(strings.TrimSpace(*d.PlanType))
		d.PlanType = &v
	}
}

func (d *UpdateDTO) Ok() (map[string]string, bool) {
	d.Normalize()
	errs := validateStruct(d, func(field string) string {
		return "Compliance.Fields." + field
	})
	if d.Elements != nil {
		mergeElementErrors(errs, Elements{}.Apply(*d.Elements).Validate())
	}
	if len(errs) == 0 {
		return map[string]string{}, true
	}
	return errs.Messages(), false
}

func (d *UpdateDTO) Changes() Changes {
	c := Changes{
		Title:       d.Title,
		Description: d.Description,
		Elements:    d.Elements,
	}
	if d.PlanType != nil {
		t := Type(*d.PlanType)
		c.PlanType = &t
	}
	return c
}

type RejectDTO struct {
	Reason string `json:"reason" validate:"required,max=2000"`
}

func (d *RejectDTO) Ok() (map[string]string, bool) {
	d.Reason = strings.TrimSpace(d.Reason)
	errs := validateStruct(d, func(string) string { return "Compliance.Fields.RejectionReason" })
	if len(errs) == 0 {
		return map[string]string{}, true
	}
	return errs.Messages(), false
}

func validateStruct(v any, localeKey func(string) string) serrors.ValidationErrors {
	errs := make(serrors.ValidationErrors)
	err := constants.Validate.Struct(v)
	if err == nil {
		return errs
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		errs["_"] = serrors.NewFieldInvalidError("payload", err.Error(), "")
		return errs
	}
	for field, ferr := range serrors.ProcessValidatorErrors(verrs, localeKey) {
		errs[lowerFirst(field)] = ferr
	}
	return errs
}

func mergeElementErrors(dst serrors.ValidationErrors, err error) {
	verrs, ok := err.(serrors.ValidationErrors)
	if !ok {
		return
	}
	for k, v := range verrs {
		dst["elements."+k] = v
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
