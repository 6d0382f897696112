package export

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const expiryLayout = "2006-01-02 15:04:05 MST"

// Subject fills {from_date}, {to_date} and {environment} in a subject template.
// Other braces are left as they are.
func Subject(template, from, to, environment string) string {
	return strings.NewReplacer(
		"{from_date}", from,
		"{to_date}", to,
		"{environment}", environment,
	).Replace(template)
}

// TruncationWarning is prepended to the success body when a run fetched
// exactly one page worth of records.
const TruncationWarning = "ATTENTION : Le nombre d'enregistrements récupérés est exactement %d. " +
	"Il est possible que toutes les données n'aient pas été extraites (limite de page atteinte sans pagination).\n\n"

type successBody struct {
	environment string
	window      Window
	count       int
	pageSize    int
	url         string
	expiresAt   time.Time
	location    string
}

func (b successBody) String() string {
	var sb strings.Builder
	if b.pageSize > 0 && b.count == b.pageSize {
		fmt.Fprintf(&sb, TruncationWarning, b.pageSize)
	}
	fmt.Fprintf(&sb, "Traitement HelloAsso terminé (pour l'environnement '%s').\n\n", b.environment)
	fmt.Fprintf(&sb, "Période couverte : du %s au %s\n", b.window.FromDate(), b.window.ToDate())
	fmt.Fprintf(&sb, "Nombre total d'enregistrements traités : %d\n\n", b.count)
	fmt.Fprintf(&sb, "Le fichier de résultats au format CSV est disponible via ce lien (valide jusqu'au %s) :\n",
		b.expiresAt.UTC().Format(expiryLayout))
	sb.WriteString(b.url)
	fmt.Fprintf(&sb, "\n\n(Stockage: %s)", b.location)
	return sb.String()
}

type failureBody struct {
	from, to string
	page     int
	err      error
}

func (b failureBody) String() string {
	page := "N/A"
	if b.page > 0 {
		page = strconv.Itoa(b.page)
	}
	return fmt.Sprintf("L'exécution de l'export a échoué pour la période %s à %s.\n"+
		"(Erreur potentiellement survenue lors du traitement de la page %s)\n"+
		"Erreur: %v\nConsultez les logs pour plus de détails.", b.from, b.to, page, b.err)
}
