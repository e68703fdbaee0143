package canon

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// ValidatorSvc holds the singleton validator and translator
type ValidatorSvc struct {
	Validator  *validator.Validate
	Translator ut.Translator
}

var (
	vOnce sync.Once
	vSvc  *ValidatorSvc
)

// initValidator builds the singleton with english translations and json
// tag names
func initValidator() *ValidatorSvc {
	vOnce.Do(func() {
		enLoc := en.New()
		uni := ut.New(enLoc, enLoc)
		trans, _ := uni.GetTranslator("en")

		v := validator.New(validator.WithRequiredStructEnabled())

		// prefer json tag names in messages
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			tag := fld.Tag.Get("json")
			if tag == "-" || tag == "" {
				return fld.Name
			}
			if idx := strings.Index(tag, ","); idx >= 0 {
				tag = tag[:idx]
			}
			return tag
		})

		_ = en_translations.RegisterDefaultTranslations(v, trans)

		vSvc = &ValidatorSvc{Validator: v, Translator: trans}
	})
	return vSvc
}

// Svc returns the validator singleton, initializing on first use
func Svc() *ValidatorSvc {
	if vSvc == nil {
		return initValidator()
	}
	return vSvc
}

// Result reports structural validity of a mapped message
type Result struct {
	Valid  bool
	Errors []string
}

// Validate structurally verifies a canonical message: required fields and
// enumerations via struct tags, then a strict re-decode against the shadow
// schema so a field added to Message without a schema update is caught
// before it reaches the store
func Validate(msg Message) Result {
	var errs []string

	if err := Svc().Validator.Struct(msg); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				errs = append(errs, fe.Translate(Svc().Translator))
			}
		} else {
			errs = append(errs, err.Error())
		}
	}

	b, err := json.Marshal(msg)
	if err != nil {
		errs = append(errs, "encode: "+err.Error())
	} else if err := checkShape(b); err != nil {
		errs = append(errs, "schema: "+err.Error())
	}

	return Result{Valid: len(errs) == 0, Errors: errs}
}

// Shadow schema mirroring the canonical message field-for-field. Unknown
// fields are rejected at every object level, not silently dropped

type schemaParty struct {
	ChannelID   string `json:"channelId"`
	Role        string `json:"role"`
	DisplayName string `json:"displayName,omitempty"`
}

type schemaContext struct {
	ReplyTo string `json:"replyTo,omitempty"`
}

type schemaAnnotation struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

type schemaMessage struct {
	TenantID   string             `json:"tenantId"`
	MessageID  string             `json:"messageId"`
	ChatID     string             `json:"chatId"`
	Direction  string             `json:"direction"`
	CreatedAt  string             `json:"createdAt"`
	Sender     schemaParty        `json:"sender"`
	Recipients []schemaParty      `json:"recipients"`
	Content    string             `json:"content"`
	Context    *schemaContext     `json:"context,omitempty"`
	Raw        string             `json:"raw"`
	Derived    []schemaAnnotation `json:"derived"`
}

// checkShape decodes strictly into the shadow schema
func checkShape(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var s schemaMessage
	return dec.Decode(&s)
}
