package twwplus

// EditingMarker replaces a row's member label while a draft exists.
const EditingMarker = "✏️ You:"

// Selectors locate the host page's elements. The zero value of a field
// means its default.
type Selectors struct {
	// ConversationView and InputBox are exact class attribute values. A
	// child-list change inside ConversationView with no added nodes, just
	// before the InputBox, means an editable region has been mounted.
	ConversationView string `toml:"conversation_view" json:"conversationView"`
	InputBox         string `toml:"input_box" json:"inputBox"`
	Editable         string `toml:"editable" json:"editable"`
	// ConversationName holds the display name of the open conversation.
	ConversationName string `toml:"conversation_name" json:"conversationName"`
	// ListContainers are exact class attribute values of the virtualised list.
	ListContainers []string `toml:"list_containers" json:"listContainers"`
	Rows           string   `toml:"rows" json:"rows"`
	RowItem        string   `toml:"row_item" json:"rowItem"`
	RowKey         string   `toml:"row_key" json:"rowKey"`
	Member         string   `toml:"member" json:"member"`
	Preview        string   `toml:"preview" json:"preview"`
	Subject        string   `toml:"subject" json:"subject"`
}

// DefaultSelectors returns the selectors of the stock host client.
func DefaultSelectors() Selectors {
	return Selectors{
		ConversationView: "ChatView",
		InputBox:         "InputBox",
		Editable:         ".Editable",
		ConversationName: "#root .NavigationBar .Avatar .displayName",
		ListContainers: []string{
			"ReactVirtualized__Grid__innerScrollContainer",
			"ReactVirtualized__Grid ReactVirtualized__List",
		},
		Rows:    ".ReactVirtualized__List .item",
		RowItem: ".item",
		RowKey:  "data-conversation-id",
		Member:  ".who > .member",
		Preview: ".what > .text, .what > .nonText",
		Subject: ".subject",
	}
}

// WithDefaults fills every empty field from DefaultSelectors.
func (s Selectors) WithDefaults() Selectors {
	def := DefaultSelectors()
	fill := func(v *string, d string) {
		if *v == "" {
			*v = d
		}
	}
	fill(&s.ConversationView, def.ConversationView)
	fill(&s.InputBox, def.InputBox)
	fill(&s.Editable, def.Editable)
	fill(&s.ConversationName, def.ConversationName)
	fill(&s.Rows, def.Rows)
	fill(&s.RowItem, def.RowItem)
	fill(&s.RowKey, def.RowKey)
	fill(&s.Member, def.Member)
	fill(&s.Preview, def.Preview)
	fill(&s.Subject, def.Subject)
	if len(s.ListContainers) == 0 {
		s.ListContainers = def.ListContainers
	}
	return s
}

func (s Selectors) isListContainer(class string) bool {
	for _, c := range s.ListContainers {
		if class == c {
			return true
		}
	}
	return false
}
