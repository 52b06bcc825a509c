package extract

// extractionPrompt instructs the model to answer with a single JSON object
// carrying the nine voicemail fields. The wording stays German because the
// transcripts are German and mixed-language prompts degrade small models.
const extractionPrompt = "Extrahieren Sie die Informationen aus der Transkription " +
	"und geben Sie nur ein JSON-Objekt im folgenden Format zurück:\n\n" +
	`{ "vorname": ..., "nachname": ..., "anfragetyp": ..., "nameMedikament": ..., ` +
	`"dosis": ..., "fachrichtung": ..., "grundUeberweisung": ..., "extraInformation": ..., "geburtsdatum":...}` +
	"\n\n'anfragetyp' kann nur 'Rezept' oder 'Überweisung' sein. " +
	"Geben Sie nur das JSON-Objekt zurück.\n\n"

// BuildPrompt composes the full prompt for a transcript.
func BuildPrompt(transcript string) string {
	return extractionPrompt + transcript
}
