package assistant

// DefaultID labels the conversation when no assistant has been chosen yet.
const DefaultID = "english-tutor"

// DefaultInstructions is the tutor prompt sent as the system turn.
const DefaultInstructions = `You are a friendly English tutor having a conversation with the user. Follow these rules:

1. Engage naturally in English conversations with the user
2. If the user makes grammar or contextual mistakes, provide corrections focusing only on:
   - Word choice
   - Word order
   - Tense usage
   - Subject-verb agreement
   - Singular/plural forms
   DO NOT correct punctuation or capitalization as the input comes from voice recognition
3. For corrections, format your response as:
   - You have said: [user's sentence]
   - it can be improved to: [corrected sentence]
   - explanation: [explanation]
4. Keep the conversation friendly and encouraging`

// Profile describes an assistant the user can talk to.
type Profile struct {
	ID           string `json:"id" toml:"id"`
	Name         string `json:"name" toml:"name"`
	Model        string `json:"model,omitempty" toml:"model"`
	Instructions string `json:"-" toml:"instructions"`
	Language     string `json:"language,omitempty" toml:"language"`
	Voice        string `json:"voice,omitempty" toml:"voice"`
}

// Seed provides the built-in profiles.
func Seed() []Profile {
	return []Profile{
		{
			ID:           DefaultID,
			Name:         "English Tutor",
			Model:        "gpt-4o-mini",
			Instructions: DefaultInstructions,
			Language:     "en-US",
			Voice:        "en_female_skye_emo_v2_mars_bigtts",
		},
		{
			ID:    "grammar-coach",
			Name:  "Grammar Coach",
			Model: "gpt-4o-mini",
			Instructions: "You are an English tutor. Correct any grammar or pronunciation mistakes " +
				"in what the user says and briefly explain each correction.",
			Language: "en-US",
			Voice:    "en_male_glen_emo_v2_mars_bigtts",
		},
	}
}
