package agent

import (
	"strings"

	"github.com/quiltfox/fablebot/pkg/config"
	"github.com/quiltfox/fablebot/pkg/queue"
)

// ConsolidationInstruction is appended as the final user message of a
// consolidation request.
const ConsolidationInstruction = "You are a memory consolidation module. " +
	"Analyze the preceding conversation. Create a concise, third-person, " +
	"past-tense summary of the key plot points, character decisions, and newly " +
	"established facts. Ignore conversational filler. The summary must be " +
	"objective and factual based only on the text provided. This summary will " +
	"serve as long-term memory."

// StopSequences keeps the model from writing the user's next line. The model
// sees the user under their display name, so that name starting a new line is
// the model speaking for them.
func StopSequences(displayName string) []string {
	name := strings.TrimSpace(displayName)
	if name == "" {
		name = "user"
	}
	return []string{"\n" + name + ":", "\n*" + name}
}

// OpeningPrompt frames the first turn of a conversation with the active
// persona, the user's identity and the scene.
func OpeningPrompt(conv queue.ConvSnapshot) string {
	persona := conv.PersonaPrompt
	if persona == "" {
		if p, ok := config.PersonaByName(config.DefaultPersonaName); ok {
			persona = p.Prompt
		}
	}
	name := strings.TrimSpace(conv.DisplayName)
	if name == "" {
		name = "user"
	}
	profile := conv.Profile
	if profile == "" {
		profile = "not specified"
	}
	scenery := conv.Scenery
	if scenery == "" {
		if s, ok := config.SceneryByName(config.DefaultSceneryName); ok {
			scenery = s.Description
		}
	}

	var b strings.Builder
	b.WriteString("(This is a role-play. ")
	b.WriteString(persona)
	b.WriteString(". The user you are talking to is named '")
	b.WriteString(name)
	b.WriteString("'. Their description is: '")
	b.WriteString(profile)
	b.WriteString("'. The scene is: '")
	b.WriteString(scenery)
	b.WriteString("'. You will now begin the role-play.)")
	return b.String()
}

// SceneGenres lists the genres offered by the scene generator, in menu order.
var SceneGenres = []string{
	"Fantasy", "Sci-Fi", "Cyberpunk", "Horror",
	"Historical", "Modern", "Surreal", "Random",
}

const sceneBasePrompt = "You are a game master describing a location. " +
	"Describe a unique environment. Focus on the physical place, its " +
	"atmosphere, sights, and sounds. Do NOT include any people, characters, " +
	"creatures, or ongoing events. The description should be a neutral " +
	"backdrop for a story to begin."

// ScenePrompt builds the generation request for one genre.
func ScenePrompt(genre string) string {
	var requirement string
	switch genre {
	case "Random":
		requirement = "The genre can be anything, from fantasy to sci-fi to modern."
	case "Surreal":
		requirement = "The environment must be dreamlike and surreal, a place that could not exist in the waking world."
	default:
		requirement = "The genre of the environment must be: **" + genre + "**."
	}
	return sceneBasePrompt + "\n\n**Requirement:**\n" + requirement
}

// PersonaArchetypes lists the character archetypes offered by the persona
// generator, in menu order.
var PersonaArchetypes = []string{
	"Heroic", "Mysterious", "Comedic", "Scholarly", "Villainous", "Random",
}

const personaBasePrompt = "You are a persona generator for an AI role-playing " +
	"chatbot. Your response MUST follow this format exactly:\n" +
	"NAME: [A single, unique character name]\n" +
	"###\n" +
	"PROMPT: [The full system prompt for the character.]\n" +
	"The prompt must start with 'You are role-playing as [Name]...'. Define " +
	"the character's personality, capabilities, and a brief backstory. The " +
	"prompt must end with the instruction: 'You must never break character.'"

// PersonaPrompt builds the generation request for one archetype.
func PersonaPrompt(archetype string) string {
	var requirement string
	switch archetype {
	case "Random":
		requirement = "The character can be of any archetype."
	default:
		requirement = "The character's archetype must be: " + archetype + "."
	}
	return personaBasePrompt + "\n" + requirement
}
