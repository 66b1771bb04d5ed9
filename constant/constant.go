package constant

type NSFWLabel string

const (
	NSFWLabelDrawing NSFWLabel = "Drawing"
	NSFWLabelHentai  NSFWLabel = "Hentai"
	NSFWLabelNeutral NSFWLabel = "Neutral"
	NSFWLabelPorn    NSFWLabel = "Porn"
	NSFWLabelSexy    NSFWLabel = "Sexy"
)

func (l NSFWLabel) String() string {
	return string(l)
}

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
	EnvironmentDevelop    Environment = "develop"
)

func (e Environment) String() string {
	return string(e)
}

// Broker patterns. Request/reply patterns are matched by the remote AI
// workers; event patterns are plain routing keys.
const (
	PatternTranscribe = "transcribe"
	PatternVideoData  = "video-data"
	EventCheckNsfw    = "check-nsfw"
	EventNsfwResult   = "nsfw-result"
)

const DefaultCategoryName = "Uncategorized"
