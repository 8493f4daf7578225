package activitypub

// Kind is the wire type tag of an activity. The vocabulary is closed:
// every kind this package handles is enumerated here, and each carries
// its own complete field contract in contracts below.
type Kind string

const (
	// actors
	Person Kind = "Person"
	Group  Kind = "Group"

	// catalog objects
	EditionKind Kind = "Edition"
	WorkKind    Kind = "Work"
	AuthorKind  Kind = "Author"

	// statuses
	Note          Kind = "Note"
	Article       Kind = "Article"
	GeneratedNote Kind = "GeneratedNote"
	Comment       Kind = "Comment"
	Review        Kind = "Review"
	Quotation     Kind = "Quotation"
	Progress      Kind = "Progress"

	Tombstone Kind = "Tombstone"
	Image     Kind = "Image"

	// activities
	Create   Kind = "Create"
	Update   Kind = "Update"
	Delete   Kind = "Delete"
	Undo     Kind = "Undo"
	Follow   Kind = "Follow"
	Accept   Kind = "Accept"
	Reject   Kind = "Reject"
	Add      Kind = "Add"
	Remove   Kind = "Remove"
	Like     Kind = "Like"
	Announce Kind = "Announce"

	// collections
	OrderedCollection     Kind = "OrderedCollection"
	OrderedCollectionPage Kind = "OrderedCollectionPage"

	// auxiliary
	Link          Kind = "Link"
	Mention       Kind = "Mention"
	PublicKeyKind Kind = "PublicKey"
	SignatureKind Kind = "RsaSignature2017"
)

// A Field is one entry in a kind's contract. A required field with no
// value fails construction; an optional field absent from the input is
// filled from Default. Defaults are allocated fresh per construction so
// no two activities ever share a container.
type Field struct {
	Name     string
	Required bool
	Default  func() any
}

func req(name string) Field { return Field{Name: name, Required: true} }
func str(name string) Field { return Field{Name: name, Default: func() any { return "" }} }
func boolf(name string) Field {
	return Field{Name: name, Default: func() any { return false }}
}
func list(name string) Field {
	return Field{Name: name, Default: func() any { return []any{} }}
}
func opt(name string) Field { return Field{Name: name} }

// extend flattens a base contract and its extension fields into one
// closed contract at definition time.
func extend(base []Field, more ...Field) []Field {
	out := make([]Field, 0, len(base)+len(more))
	out = append(out, base...)
	out = append(out, more...)
	return out
}

var (
	actorFields = []Field{
		req("id"),
		req("preferredUsername"),
		req("inbox"),
		req("publicKey"),
		str("name"),
		str("summary"),
		str("outbox"),
		str("followers"),
		opt("endpoints"),
		opt("icon"),
		boolf("manuallyApprovesFollowers"),
		boolf("discoverable"),
		boolf("shelfpubUser"),
	}

	noteFields = []Field{
		req("id"),
		req("attributedTo"),
		req("published"),
		str("content"),
		str("summary"),
		str("inReplyTo"),
		str("updated"),
		boolf("sensitive"),
		list("to"),
		list("cc"),
		list("tag"),
		list("attachment"),
	}

	bookStatusFields = extend(noteFields,
		req("inReplyToBook"),
	)

	activityFields = []Field{
		req("id"),
		req("actor"),
		req("object"),
		list("to"),
		list("cc"),
	}

	bookFields = []Field{
		req("id"),
		req("title"),
		str("description"),
		opt("cover"),
		list("authors"),
	}
)

// contracts maps every kind to its full, flattened field contract.
var contracts = map[Kind][]Field{
	Person: actorFields,
	Group:  actorFields,

	PublicKeyKind: {
		req("id"),
		req("owner"),
		req("publicKeyPem"),
	},

	AuthorKind: {
		req("id"),
		req("name"),
		str("bio"),
		str("isni"),
		str("viafId"),
		str("wikipediaLink"),
		str("born"),
		str("died"),
	},
	WorkKind: extend(bookFields,
		str("firstPublishedDate"),
		list("editions"),
	),
	EditionKind: extend(bookFields,
		str("subtitle"),
		str("isbn10"),
		str("isbn13"),
		str("oclcNumber"),
		str("asin"),
		opt("numPages"),
		str("physicalFormat"),
		list("publishers"),
		list("languages"),
		str("publishedDate"),
		str("work"),
	),

	Note:          noteFields,
	Article:       extend(noteFields, req("name")),
	GeneratedNote: noteFields,
	Comment:       extend(bookStatusFields, str("readingStatus")),
	Review:        extend(bookStatusFields, str("name"), opt("rating")),
	Quotation:     extend(bookStatusFields, req("quote"), opt("position"), str("positionMode")),
	Progress:      extend(bookStatusFields, req("readingStatus")),

	Tombstone: {
		req("id"),
	},
	Image: {
		req("url"),
		str("name"),
	},

	Create:   extend(activityFields, opt("signature")),
	Update:   activityFields,
	Delete:   activityFields,
	Undo:     activityFields,
	Follow:   activityFields,
	Accept:   activityFields,
	Reject:   activityFields,
	Like:     activityFields,
	Announce: extend(activityFields, str("published")),
	Add:      extend(activityFields, req("target")),
	Remove:   extend(activityFields, req("target")),

	OrderedCollection: {
		req("id"),
		str("name"),
		str("owner"),
		str("first"),
		Field{Name: "totalItems", Default: func() any { return float64(0) }},
	},
	OrderedCollectionPage: {
		req("id"),
		req("partOf"),
		str("next"),
		str("prev"),
		list("orderedItems"),
	},

	Link: {
		req("href"),
		str("name"),
	},
	Mention: {
		req("href"),
		str("name"),
	},
	SignatureKind: {
		req("creator"),
		req("created"),
		req("signatureValue"),
	},
}

// KnownKind reports whether tag is part of the supported vocabulary.
func KnownKind(tag string) bool {
	_, ok := contracts[Kind(tag)]
	return ok
}

// activityKinds are the kinds that carry an actor and an object.
var activityKinds = map[Kind]bool{
	Create: true, Update: true, Delete: true, Undo: true,
	Follow: true, Accept: true, Reject: true,
	Add: true, Remove: true, Like: true, Announce: true,
}

// IsActivity reports whether kind names an action rather than an
// object, actor or collection.
func (k Kind) IsActivity() bool { return activityKinds[k] }

func (k Kind) IsActor() bool { return k == Person || k == Group }
