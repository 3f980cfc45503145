package render

// Kind tags a rendered message variant.
type Kind int

const (
	KindText Kind = iota
	KindCaption
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindCaption:
		return "caption"
	default:
		return "unknown"
	}
}

// Media is one attachment of a caption message.
type Media struct {
	URL     string
	Caption string
}

// Message is a recipient-agnostic payload.
//
// Text is set for KindText. Media is set for KindCaption; only Media[0]
// carries a caption.
type Message struct {
	Kind  Kind
	Text  string
	Media []Media
}

// Options tunes the rich-embedded category.
type Options struct {
	// RichMarker in a feed title selects the rich-embedded category.
	RichMarker string
	// DefaultName replaces an empty display name.
	DefaultName string
	// MediaHost is the only host image references are taken from.
	MediaHost string
	// MediaLimit caps attachments per media group.
	MediaLimit int
	// CaptionLimit is the rune length above which a caption is cut to CaptionCut.
	CaptionLimit int
	CaptionCut   int
	// LinkLabel is the anchor text of the trailing link.
	LinkLabel string
}

func DefaultOptions() Options {
	return Options{
		RichMarker:   "即刻",
		DefaultName:  "即友",
		MediaHost:    "cdn.jellow.site",
		MediaLimit:   10,
		CaptionLimit: 200,
		CaptionCut:   190,
		LinkLabel:    "去看看",
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.RichMarker == "" {
		o.RichMarker = def.RichMarker
	}
	if o.DefaultName == "" {
		o.DefaultName = def.DefaultName
	}
	if o.MediaHost == "" {
		o.MediaHost = def.MediaHost
	}
	if o.MediaLimit <= 0 {
		o.MediaLimit = def.MediaLimit
	}
	if o.CaptionLimit <= 0 {
		o.CaptionLimit = def.CaptionLimit
	}
	if o.CaptionCut <= 0 || o.CaptionCut > o.CaptionLimit {
		// keep the default headroom below the limit
		o.CaptionCut = o.CaptionLimit - (def.CaptionLimit - def.CaptionCut)
		if o.CaptionCut <= 0 {
			o.CaptionCut = o.CaptionLimit
		}
	}
	if o.LinkLabel == "" {
		o.LinkLabel = def.LinkLabel
	}
	return o
}
