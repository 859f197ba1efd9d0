package greeting

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/bobarin/saludo/internal/models"
)

const (
	MaxTextLength      = 2000
	MaxNombreLength    = 100
	MaxEmailLength     = 255
	MaxProvinciaLength = 50
)

var (
	nombrePattern  = regexp.MustCompile(`^[a-zA-ZáéíóúÁÉÍÓÚñÑ\s]+$`)
	emailPattern   = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	controlChars   = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F]`)
	repeatedSpaces = regexp.MustCompile(`\s+`)
)

// ValidationError lists every problem found in a form.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid form: " + strings.Join(e.Problems, "; ")
}

// Validate checks a submitted form. emailDomain is appended to the email when the
// client splits the address in two fields. Returns *ValidationError on failure.
func Validate(f models.FormFields, emailDomain string) error {
	var problems []string

	nombre := strings.TrimSpace(f.Nombre)
	switch {
	case nombre == "":
		problems = append(problems, "El nombre es requerido")
	case utf8.RuneCountInString(nombre) > MaxNombreLength:
		problems = append(problems, fmt.Sprintf("El nombre no puede tener más de %d caracteres", MaxNombreLength))
	case !nombrePattern.MatchString(nombre):
		problems = append(problems, "El nombre contiene caracteres inválidos")
	}

	parentesco := strings.TrimSpace(f.Parentesco)
	switch {
	case parentesco == "":
		problems = append(problems, "El parentesco es requerido")
	case utf8.RuneCountInString(parentesco) > MaxNombreLength:
		problems = append(problems, fmt.Sprintf("El parentesco no puede tener más de %d caracteres", MaxNombreLength))
	}

	email := strings.TrimSpace(f.Email)
	fullEmail := email + strings.TrimSpace(emailDomain)
	switch {
	case email == "":
		problems = append(problems, "El email es requerido")
	case utf8.RuneCountInString(fullEmail) > MaxEmailLength:
		problems = append(problems, fmt.Sprintf("El email no puede tener más de %d caracteres", MaxEmailLength))
	case !emailPattern.MatchString(fullEmail):
		problems = append(problems, "El formato del email es inválido")
	}

	provincia := strings.TrimSpace(f.Provincia)
	switch {
	case provincia == "":
		problems = append(problems, "La provincia es requerida")
	case utf8.RuneCountInString(provincia) > MaxProvinciaLength:
		problems = append(problems, fmt.Sprintf("La provincia no puede tener más de %d caracteres", MaxProvinciaLength))
	}

	texts := []struct {
		name  string
		value string
	}{
		{"queHizo", f.QueHizo},
		{"recuerdoEspecial", f.RecuerdoEspecial},
		{"pedidoNocheMagica", f.PedidoNocheMagica},
	}
	for _, field := range texts {
		text := strings.TrimSpace(field.value)
		switch {
		case text == "":
			problems = append(problems, fmt.Sprintf("El campo '%s' es requerido", field.name))
		case utf8.RuneCountInString(text) > MaxTextLength:
			problems = append(problems, fmt.Sprintf("El campo '%s' no puede tener más de %d caracteres", field.name, MaxTextLength))
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// Sanitize strips control characters and collapses runs of whitespace.
func Sanitize(s string) string {
	s = controlChars.ReplaceAllString(s, "")
	s = repeatedSpaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Normalize returns a copy of f with every field sanitised and the email joined
// with its domain.
func Normalize(f models.FormFields, emailDomain string) models.FormFields {
	return models.FormFields{
		Nombre:            Sanitize(f.Nombre),
		Parentesco:        Sanitize(f.Parentesco),
		Email:             strings.TrimSpace(f.Email) + strings.TrimSpace(emailDomain),
		Provincia:         Sanitize(f.Provincia),
		QueHizo:           Sanitize(f.QueHizo),
		RecuerdoEspecial:  Sanitize(f.RecuerdoEspecial),
		PedidoNocheMagica: Sanitize(f.PedidoNocheMagica),
	}
}
