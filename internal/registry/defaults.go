package registry

// DefaultWage is paid to any agent without an override.
const DefaultWage = "10"

var defaultEntries = []Entry{
	{
		ID:        "Alice",
		Address:   "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
		Color:     "#bf00ff",
		Role:      "CODER",
		Specialty: "Market Analysis & Sentiment",
	},
	{
		ID:        "Carol",
		Address:   "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC",
		Color:     "#ccff00",
		Role:      "AUDITOR",
		Specialty: "Creative Generation (Generative Art)",
	},
	{
		ID:        "Dave",
		Address:   "0x90F79bf6EB2c4f870365E785982E1f101E93b906",
		Color:     "#ff9900",
		Role:      "ANALYST",
		Specialty: "The Council (Debate & Consensus)",
	},
}

var defaultOverrides = map[string]string{
	"Carol": "11",
	"Dave":  "12",
}

// Default returns the built-in address book.
func Default() (*Registry, error) {
	return New(defaultEntries, DefaultWage, defaultOverrides)
}
