package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/nzwater/compliance-core/pkg/constants"
	"github.com/nzwater/compliance-core/pkg/serrors"
)

const (
	ElementCount     = 12
	MaxElementLength = 20000
)

// ElementDef describes one of the mandatory DWSP sections.
type ElementDef struct {
	Key  string
	Name string
}

// Canonical lists the mandatory elements in their numbered order.
var Canonical = [ElementCount]ElementDef{
	{Key: "waterSupplyDescription", Name: "Water Supply Description"},
	{Key: "hazardIdentification", Name: "Hazard Identification"},
	{Key: "riskAssessment", Name: "Risk Assessment"},
	{Key: "preventiveMeasures", Name: "Preventive Measures"},
	{Key: "operationalMonitoring", Name: "Operational Monitoring"},
	{Key: "verificationMonitoring", Name: "Verification Monitoring"},
	{Key: "correctiveActions", Name: "Corrective Actions"},
	{Key: "multiBarrierApproach", Name: "Multi-Barrier Approach"},
	{Key: "emergencyResponse", Name: "Emergency Response"},
	{Key: "residualDisinfection", Name: "Residual Disinfection"},
	{Key: "waterQuantityManagement", Name: "Water Quantity Management"},
	{Key: "reviewProcedures", Name: "Review Procedures"},
}

// Elements holds the free-text content of the 12 mandatory sections. Empty means not provided.
type Elements struct {
	WaterSupplyDescription  string `json:"waterSupplyDescription,omitempty" yaml:"waterSupplyDescription,omitempty" validate:"max=20000"`
	HazardIdentification    string `json:"hazardIdentification,omitempty" yaml:"hazardIdentification,omitempty" validate:"max=20000"`
	RiskAssessment          string `json:"riskAssessment,omitempty" yaml:"riskAssessment,omitempty" validate:"max=20000"`
	PreventiveMeasures      string `json:"preventiveMeasures,omitempty" yaml:"preventiveMeasures,omitempty" validate:"max=20000"`
	OperationalMonitoring   string `json:"operationalMonitoring,omitempty" yaml:"operationalMonitoring,omitempty" validate:"max=20000"`
	VerificationMonitoring  string `json:"verificationMonitoring,omitempty" yaml:"verificationMonitoring,omitempty" validate:"max=20000"`
	CorrectiveActions       string `json:"correctiveActions,omitempty" yaml:"correctiveActions,omitempty" validate:"max=20000"`
	MultiBarrierApproach    string `json:"multiBarrierApproach,omitempty" yaml:"multiBarrierApproach,omitempty" validate:"max=20000"`
	EmergencyResponse       string `json:"emergencyResponse,omitempty" yaml:"emergencyResponse,omitempty" validate:"max=20000"`
	ResidualDisinfection    string `json:"residualDisinfection,omitempty" yaml:"residualDisinfection,omitempty" validate:"max=20000"`
	WaterQuantityManagement string `json:"waterQuantityManagement,omitempty" yaml:"waterQuantityManagement,omitempty" validate:"max=20000"`
	ReviewProcedures        string `json:"reviewProcedures,omitempty" yaml:"reviewProcedures,omitempty" validate:"max=20000"`
}

func (e *Elements) fields() [ElementCount]*string {
	return [ElementCount]*string{
		&e.WaterSupplyDescription,
		&e.HazardIdentification,
		&e.RiskAssessment,
		&e.PreventiveMeasures,
		&e.OperationalMonitoring,
		&e.VerificationMonitoring,
		&e.CorrectiveActions,
		&e.MultiBarrierApproach,
		&e.EmergencyResponse,
		&e.ResidualDisinfection,
		&e.WaterQuantityManagement,
		&e.ReviewProcedures,
	}
}

// Values returns the element contents in canonical order.
func (e Elements) Values() [ElementCount]string {
	var out [ElementCount]string
	for i, f := range e.fields() {
		out[i] = *f
	}
	return out
}

// ByKey returns a json key -> content map with only the provided elements.
func (e Elements) ByKey() map[string]string {
	out := make(map[string]string, ElementCount)
	for i, v := range e.Values() {
		if v != "" {
			out[Canonical[i].Key] = v
		}
	}
	return out
}

// Normalize trims surrounding whitespace so blank sections read as empty.
func (e Elements) Normalize() Elements {
	for _, f := range e.fields() {
		*f = strings.TrimSpace(*f)
	}
	return e
}

// Validate reports every element that is too long or not valid UTF-8.
func (e Elements) Validate() error {
	errs := make(serrors.ValidationErrors)
	if err := constants.Validate.Struct(e); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for field, ferr := range serrors.ProcessValidatorErrors(verrs, elementLocaleKey) {
				errs[elementKeyForField(field)] = ferr
			}
		} else {
			return err
		}
	}
	for i, v := range e.Values() {
		if !utf8.ValidString(v) {
			key := Canonical[i].Key
			errs[key] = serrors.NewFieldInvalidError(key, "must be valid UTF-8", elementLocaleKey(key))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// DecodeElements strictly decodes a JSON object, rejecting keys outside the canonical 12.
func DecodeElements(data []byte) (Elements, error) {
	var out Elements
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return Elements{}, serrors.ValidationErrors{
			"elements": serrors.NewFieldInvalidError("elements", fmt.Sprintf("is malformed: %v", err), "Compliance.Fields.Elements"),
		}
	}
	return out, nil
}

// ElementsPatch carries a partial element update. Nil leaves an element unchanged; an empty string clears it.
type ElementsPatch struct {
	WaterSupplyDescription  *string `json:"waterSupplyDescription,omitempty"`
	HazardIdentification    *string `json:"hazardIdentification,omitempty"`
	RiskAssessment          *string `json:"riskAssessment,omitempty"`
	PreventiveMeasures      *string `json:"preventiveMeasures,omitempty"`
	OperationalMonitoring   *string `json:"operationalMonitoring,omitempty"`
	VerificationMonitoring  *string `json:"verificationMonitoring,omitempty"`
	CorrectiveActions       *string `json:"correctiveActions,omitempty"`
	MultiBarrierApproach    *string `json:"multiBarrierApproach,omitempty"`
	EmergencyResponse       *string `json:"emergencyResponse,omitempty"`
	ResidualDisinfection    *string `json:"residualDisinfection,omitempty"`
	WaterQuantityManagement *string `json:"waterQuantityManagement,omitempty"`
	ReviewProcedures        *string `json:"reviewProcedures,omitempty"`
}

func (p *ElementsPatch) fields() [ElementCount]**string {
	return [ElementCount]**string{
		&p.WaterSupplyDescription,
		&p.HazardIdentification,
		&p.RiskAssessment,
		&p.PreventiveMeasures,
		&p.OperationalMonitoring,
		&p.VerificationMonitoring,
		&p.CorrectiveActions,
		&p.MultiBarrierApproach,
		&p.EmergencyResponse,
		&p.ResidualDisinfection,
		&p.WaterQuantityManagement,
		&p.ReviewProcedures,
	}
}

// IsEmpty reports whether the patch touches no element.
func (p ElementsPatch) IsEmpty() bool {
	for _, f := range p.fields() {
		if *f != nil {
			return false
		}
	}
	return true
}

// Apply returns e with the patch applied.
func (e Elements) Apply(p ElementsPatch) Elements {
	src := p.fields()
	dst := e.fields()
	for i := range src {
		if v := *src[i]; v != nil {
			*dst[i] = *v
		}
	}
	return e
}

// PatchFrom builds a patch that replaces every element with the values in e.
func PatchFrom(e Elements) ElementsPatch {
	var p ElementsPatch
	dst := p.fields()
	for i, v := range e.Values() {
		v := v
		*dst[i] = &v
	}
	return p
}

func elementLocaleKey(field string) string {
	return fmt.Sprintf("Compliance.Elements.%s", field)
}

func elementKeyForField(field string) string {
	for i, name := range elementFieldNames {
		if name == field {
			return Canonical[i].Key
		}
	}
	return field
}

var elementFieldNames = [ElementCount]string{
	"WaterSupplyDescription",
	"HazardIdentification",
	"RiskAssessment",
	"PreventiveMeasures",
	"OperationalMonitoring",
	"VerificationMonitoring",
	"CorrectiveActions",
	"MultiBarrierApproach",
	"EmergencyResponse",
	"ResidualDisinfection",
	"WaterQuantityManagement",
	"ReviewProcedures",
}
