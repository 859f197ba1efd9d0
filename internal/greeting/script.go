// Package greeting turns a submitted form into the two lines Papá Noel speaks.
package greeting

import (
	"strings"

	"github.com/bobarin/saludo/internal/models"
)

// IntroLine is spoken over the intro segment, before the personalised part.
const IntroLine = "¡Ho, ho, ho! Mirá lo que tengo para vos..."

const mainTemplate = `¡Hola {nombre}! Soy Papá Noel y vengo desde el Polo Norte para saludarte en esta Noche Mágica.

Tu {parentesco} me contó que este año {queHizo}. ¡Qué orgullo me da saber eso!

{recuerdoEspecial}

Y me dijeron que tu pedido especial para esta Noche Mágica es: {pedidoNocheMagica}.
Voy a hacer todo lo posible para que se cumpla.

Desde Grido y desde el Polo Norte, te deseamos unas Fiestas Mágicas llenas de alegría.
Y recordá, la magia está en compartir... ¡y en un rico helado de Grido!

¡Ho, ho, ho! ¡Feliz Noche Mágica desde {provincia}!`

// ScriptPair is derived from a job's form and never stored.
type ScriptPair struct {
	IntroLine    string
	MainDialogue string
}

// BuildScript fills the dialogue template. Field values are sanitised first and
// substituted in a single pass, so a placeholder typed into the form stays literal.
func BuildScript(f models.FormFields) ScriptPair {
	r := strings.NewReplacer(
		"{nombre}", Sanitize(f.Nombre),
		"{parentesco}", Sanitize(f.Parentesco),
		"{queHizo}", Sanitize(f.QueHizo),
		"{recuerdoEspecial}", Sanitize(f.RecuerdoEspecial),
		"{pedidoNocheMagica}", Sanitize(f.PedidoNocheMagica),
		"{provincia}", Sanitize(f.Provincia),
	)
	return ScriptPair{
		IntroLine:    IntroLine,
		MainDialogue: r.Replace(mainTemplate),
	}
}
