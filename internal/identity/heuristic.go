// Package identity pulls patient name and phone out of free chat text.
package identity

import (
	"errors"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	// ErrInvalidName is returned when a name fails structural or vocabulary checks.
	ErrInvalidName = errors.New("identity: invalid patient name")
	// ErrInvalidPhone is returned when a phone does not normalize to a Brazilian number.
	ErrInvalidPhone = errors.New("identity: invalid phone number")
)

// Extraction is whatever identity data one message carried.
type Extraction struct {
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Empty reports whether nothing was extracted.
func (e Extraction) Empty() bool {
	return e.Name == "" && e.Phone == ""
}

// Extractor classifies free text into identity fields. Implementations must never return
// a name that fails ValidateName.
type Extractor interface {
	Extract(text string) Extraction
}

// Heuristic is the regex and denylist Extractor.
type Heuristic struct{}

// NewHeuristic returns the default Extractor.
func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

var (
	phonePattern = regexp.MustCompile(`(?:\+?55[\s-]?)?\(?\d{2}\)?[\s-]?\d{4,5}[-\s]?\d{4}`)

	introducerPattern = regexp.MustCompile(`(?i)^(?:(?:oi|olá|ola|bom dia|boa tarde|boa noite)[\s,!.]*)?(?:meu nome é|meu nome e|me chamo|eu me chamo|eu sou o|eu sou a|eu sou|sou o|sou a|aqui é o|aqui é a|aqui é|sou)\s+`)
	segmentBreak      = regexp.MustCompile(`[,;.\n!]`)
	// clauseBreak ends a name where a trailing clause about contact data starts.
	clauseBreak = regexp.MustCompile(`(?i)\s+(?:e\s+)?(?:meu|minha|meus|minhas|telefone|celular|whatsapp|zap|fone|n[uú]mero)\b`)
	spaceRun    = regexp.MustCompile(`\s+`)
)

var questionWords = map[string]struct{}{
	"qual": {}, "quais": {}, "como": {}, "quando": {}, "onde": {}, "quem": {},
	"quanto": {}, "quanta": {}, "quantos": {}, "quantas": {}, "porque": {}, "por": {},
	"sabe": {}, "pode": {}, "posso": {}, "tem": {}, "voce": {}, "vc": {},
}

// nonNameWords are tokens that mark an utterance as something other than a name.
var nonNameWords = map[string]struct{}{
	// filler and intent
	"meu": {}, "minha": {}, "nome": {}, "quero": {}, "queria": {}, "gostaria": {},
	"agendar": {}, "marcar": {}, "desmarcar": {}, "cancelar": {}, "remarcar": {},
	"consulta": {}, "horario": {}, "horarios": {}, "agenda": {}, "telefone": {},
	"celular": {}, "numero": {}, "obrigado": {}, "obrigada": {}, "favor": {},
	"preciso": {}, "ajuda": {}, "duvida": {}, "informacao": {}, "valor": {}, "preco": {},
	"ainda": {}, "nao": {}, "isso": {}, "esse": {}, "essa": {}, "aquele": {},
	"tudo": {}, "bem": {}, "oi": {}, "ola": {}, "tchau": {},
	// confirmations
	"sim": {}, "ok": {}, "certo": {}, "claro": {}, "beleza": {}, "exato": {},
	"confirmo": {}, "confirmar": {}, "perfeito": {}, "combinado": {},
	// time words
	"hoje": {}, "amanha": {}, "ontem": {}, "manha": {}, "tarde": {}, "noite": {},
	"dia": {}, "semana": {}, "mes": {}, "hora": {}, "horas": {}, "segunda": {},
	"terca": {}, "quarta": {}, "quinta": {}, "sexta": {}, "sabado": {}, "domingo": {},
	"feira": {}, "proxima": {}, "proximo": {}, "depois": {}, "antes": {}, "cedo": {},
	// clinical and procedures
	"dor": {}, "dores": {}, "exame": {}, "exames": {}, "retorno": {}, "botox": {},
	"limpeza": {}, "clareamento": {}, "canal": {}, "implante": {}, "aparelho": {},
	"tratamento": {}, "procedimento": {}, "avaliacao": {}, "cirurgia": {},
	"preenchimento": {}, "peeling": {}, "convenio": {}, "plano": {}, "particular": {},
	// body parts
	"dente": {}, "dentes": {}, "boca": {}, "gengiva": {}, "rosto": {}, "pele": {},
	"cabeca": {}, "costas": {}, "joelho": {}, "olho": {}, "olhos": {}, "barriga": {},
	"braco": {}, "perna": {}, "ombro": {}, "pescoco": {}, "labio": {}, "labios": {},
	"febre": {}, "gripe": {}, "tosse": {}, "alergia": {}, "gravida": {},
}

// functionWords are pronouns, articles, prepositions and common verbs. Names are built
// from proper nouns and the particles in lowerParticles, so any of these in a candidate
// means it is a sentence fragment.
var functionWords = map[string]struct{}{
	// pronouns
	"eu": {}, "ele": {}, "ela": {}, "nos": {}, "eles": {}, "elas": {}, "voces": {},
	"me": {}, "mim": {}, "comigo": {}, "lhe": {}, "seu": {}, "sua": {},
	// articles and determiners
	"o": {}, "a": {}, "os": {}, "as": {}, "um": {}, "uma": {}, "uns": {}, "umas": {},
	"este": {}, "esta": {}, "estes": {}, "estas": {}, "aqui": {}, "ali": {}, "la": {},
	// prepositions and conjunctions
	"com": {}, "sem": {}, "em": {}, "no": {}, "na": {}, "nas": {}, "para": {},
	"pra": {}, "pro": {}, "ao": {}, "que": {}, "se": {}, "mas": {}, "ou": {}, "so": {},
	"muito": {}, "muita": {}, "pouco": {}, "mais": {}, "menos": {}, "longe": {}, "perto": {},
	// common verbs
	"estou": {}, "estava": {}, "estamos": {}, "estar": {},
	"vou": {}, "vai": {}, "vamos": {}, "ir": {}, "fui": {}, "foi": {},
	"tenho": {}, "tive": {}, "temos": {}, "ter": {},
	"sou": {}, "era": {}, "ser": {}, "seria": {},
	"prefiro": {}, "prefere": {}, "moro": {}, "mora": {}, "acho": {}, "sinto": {},
	"chegar": {}, "chego": {}, "atrasado": {}, "atrasada": {}, "consigo": {},
	"faco": {}, "fazer": {}, "falar": {}, "ligar": {}, "ligo": {}, "gosto": {},
	"trabalho": {}, "estudo": {}, "acordei": {}, "estive": {}, "fiz": {}, "pergunta": {},
}

// Extract implements Extractor.
func (h *Heuristic) Extract(text string) Extraction {
	phone := ExtractPhone(text)
	remainder := phonePattern.ReplaceAllString(text, " ")
	return Extraction{
		Name:  ExtractName(remainder),
		Phone: phone,
	}
}

// ExtractPhone returns the first phone in text normalized to digits, or "".
func ExtractPhone(text string) string {
	for _, match := range phonePattern.FindAllString(text, -1) {
		if phone, err := NormalizePhone(match); err == nil {
			return phone
		}
	}
	return ""
}

// NormalizePhone reduces raw to national digits (area code + number), dropping a leading 55.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if strings.HasPrefix(digits, "55") && (len(digits) == 12 || len(digits) == 13) {
		digits = digits[2:]
	}
	if len(digits) != 10 && len(digits) != 11 {
		return "", ErrInvalidPhone
	}
	if digits[0] == '0' {
		return "", ErrInvalidPhone
	}
	return digits, nil
}

// ExtractName returns a plausible full name from text, or "" when the text looks like
// anything else (a question, a fragment, a symptom, a time).
func ExtractName(text string) string {
	candidate := strings.TrimSpace(text)
	if candidate == "" || strings.Contains(candidate, "?") {
		return ""
	}
	candidate = introducerPattern.ReplaceAllString(candidate, "")
	if loc := segmentBreak.FindStringIndex(candidate); loc != nil {
		candidate = candidate[:loc[0]]
	}
	if loc := clauseBreak.FindStringIndex(candidate); loc != nil {
		candidate = candidate[:loc[0]]
	}
	candidate = strings.TrimSpace(spaceRun.ReplaceAllString(candidate, " "))
	if candidate == "" {
		return ""
	}
	if rejectsAsName(candidate) {
		return ""
	}
	if ValidateName(candidate) != nil {
		return ""
	}
	return titleCase(candidate)
}

// ValidateName applies the structural rules (two or more tokens, 6 to 50 characters,
// letter-led non-numeric tokens) and the vocabulary denylist.
func ValidateName(name string) error {
	name = strings.TrimSpace(spaceRun.ReplaceAllString(name, " "))
	length := len([]rune(name))
	if length < 6 || length > 50 {
		return ErrInvalidName
	}
	tokens := strings.Fields(name)
	if len(tokens) < 2 {
		return ErrInvalidName
	}
	for _, tok := range tokens {
		first := []rune(tok)[0]
		if !unicode.IsLetter(first) {
			return ErrInvalidName
		}
		for _, r := range tok {
			if unicode.IsDigit(r) {
				return ErrInvalidName
			}
		}
	}
	if rejectsAsName(name) {
		return ErrInvalidName
	}
	return nil
}

func rejectsAsName(text string) bool {
	tokens := strings.Fields(Fold(text))
	if len(tokens) == 0 {
		return true
	}
	if _, ok := questionWords[tokens[0]]; ok {
		return true
	}
	for _, tok := range tokens {
		tok = strings.Trim(tok, "'\"")
		if _, ok := nonNameWords[tok]; ok {
			return true
		}
		if _, ok := functionWords[tok]; ok {
			return true
		}
	}
	return false
}

// Fold lowercases s and strips diacritics.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

// NameTokens returns the folded tokens of a name, for fuzzy comparison.
func NameTokens(name string) []string {
	return strings.Fields(Fold(name))
}

// NamesMatch reports whether two names share at least one folded token, ignoring
// particles such as "da" or "de".
func NamesMatch(a, b string) bool {
	seen := make(map[string]struct{})
	for _, tok := range NameTokens(a) {
		if _, particle := lowerParticles[tok]; !particle {
			seen[tok] = struct{}{}
		}
	}
	for _, tok := range NameTokens(b) {
		if _, ok := seen[tok]; ok {
			return true
		}
	}
	return false
}

var lowerParticles = map[string]struct{}{"da": {}, "de": {}, "do": {}, "das": {}, "dos": {}, "e": {}}

func titleCase(name string) string {
	tokens := strings.Fields(name)
	for i, tok := range tokens {
		lower := strings.ToLower(tok)
		if _, ok := lowerParticles[lower]; ok && i > 0 {
			tokens[i] = lower
			continue
		}
		r := []rune(lower)
		r[0] = unicode.ToUpper(r[0])
		tokens[i] = string(r)
	}
	return strings.Join(tokens, " ")
}
