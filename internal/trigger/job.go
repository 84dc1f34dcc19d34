package trigger

// Action is the category of work a trigger payload requests.
type Action string

const (
	ActionGeneratePdf Action = "generate-pdf"
	ActionRevise      Action = "revise"
	ActionRecopy      Action = "recopy"
	ActionGenerate    Action = "generate"
	ActionUnknown     Action = "unknown"
)

// Job describes one unit of work handed to the agent by the backend.
// A Job is immutable once parsed; all mutation happens on the filesystem
// side effects it describes, never on the record itself.
type Job struct {
	Filename   string // trigger file name, primary correlation key with the backend queue
	RawPayload []byte // downloaded trigger content, opaque except for attribute extraction
	Action     Action

	CorrelationID string // quote id; may be guessed from the filename
	// CorrelationGuessed marks the filename-prefix fallback path, which can
	// silently misfire when filenames do not follow the Q123_name convention.
	CorrelationGuessed bool

	TargetPath       string // where the automation tool expects the working artifact ("cible")
	SourcePath       string // pre-existing artifact to copy from ("modele")
	AuxDir           string // secondary output directory ("dirpdf")
	PriorRevisionRef string // previous-revision prefix, Revise only ("ancienNom")
}
