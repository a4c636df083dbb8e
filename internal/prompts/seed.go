// Package prompts owns the stage definition table and template resolution
// for the guided-writing state machine.
package prompts

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/unsent-labs/unsent/internal/models"
	"github.com/unsent-labs/unsent/internal/store"
)

// StageDefinitions is the built-in stage table. Stored definitions take
// precedence; EnsureSeed only fills gaps, so operators can edit prompt
// copy in the database without it being overwritten on restart.
var StageDefinitions = []models.StageDefinition{
	{
		StageID:  models.StageWelcome,
		Name:     "welcome",
		IsStatic: false,
		Audience: models.AudienceUser,
		Template: "Hi {user_name}, welcome to Unsent. This is a private space to put into words " +
			"the things you never got to say to someone. Nothing leaves this space unless you " +
			"choose to send it. What's on your mind today?",
		NextStage: models.StagePtr(models.StageContextIntent),
	},
	{
		StageID:  models.StageContextIntent,
		Name:     "context_intent",
		IsStatic: true,
		Audience: models.AudienceModel,
		Template: "The user has just described what is on their mind. Read their message and decide " +
			"which kind of reflection fits best: \"venting\" if they mainly need to let feelings out, " +
			"\"feedback_sbi\" if they want to tell someone how their behavior affected them, " +
			"\"apology_4a\" if they want to make amends, or \"gratitude_aif\" if they want to thank " +
			"someone. Respond in JSON with a user_response object containing a warm one-or-two sentence " +
			"\"message\" that reflects what you heard, and a system_response object containing " +
			"\"intent\" (one of the four labels above), \"relationship\" (who the other person is to " +
			"them, if mentioned, else an empty string), and \"context\" (a one sentence summary of " +
			"the situation).",
	},
	{
		StageID:  models.StageEmotion,
		Name:     "emotion",
		IsStatic: true,
		Audience: models.AudienceUser,
		Template: "Before we shape the words, let's sit with the feeling for a moment. " +
			"When you think about this person and what happened, what emotions come up for you?",
		NextStage: models.StagePtr(models.StageEmotionValidate),
	},
	{
		StageID:  models.StageEmotionValidate,
		Name:     "emotion_validation",
		IsStatic: false,
		Audience: models.AudienceModel,
		Template: "The user named these emotions: {user_emotions}. Acknowledge them with genuine warmth " +
			"in one or two sentences, without judging or minimizing. Respond in JSON with a " +
			"user_response object containing \"message\", and a system_response object containing " +
			"\"emotions\" (a comma separated normalization of the emotions they named).",
	},
	{
		StageID:  models.StageRecipientPrompt,
		Name:     "recipient_prompt",
		IsStatic: true,
		Audience: models.AudienceUser,
		Template: "Who is this message for? You can share their first name, or however you " +
			"think of them.",
		NextStage: models.StagePtr(models.StageNameValidate),
	},
	{
		StageID:  models.StageNameValidate,
		Name:     "name_validation",
		IsStatic: true,
		Audience: models.AudienceModel,
		Template: "The user was asked who their message is for. Decide whether their reply actually " +
			"names a person (a name, nickname, or relational term like \"my mother\"). Respond in JSON " +
			"with a system_response object containing \"is_valid_name\" (true or false) and \"name\" " +
			"(the extracted name, or empty), and a user_response object containing \"message\": if the " +
			"name is valid, a short confirmation; if not, a gentle request to share who it is for.",
	},

	// Feedback playbook (SBI: situation, behavior, impact).
	{
		StageID:  models.StageFeedbackStart,
		Name:     "feedback_situation",
		IsStatic: true,
		Audience: models.AudienceUser,
		Template: "Let's start with the situation. When and where did this happen? " +
			"Describe the moment as specifically as you can.",
		NextStage: models.StagePtr(models.StageFeedbackStart + 1),
	},
	{
		StageID:  models.StageFeedbackStart + 1,
		Name:     "feedback_behavior",
		IsStatic: true,
		Audience: models.AudienceUser,
		Template: "Now the behavior. What did they actually do or say in that moment? " +
			"Stick to what you observed, not what you think it meant.",
		NextStage: models.StagePtr(models.StageFeedbackStart + 2),
	},
	{
		StageID:  models.StageFeedbackStart + 2,
		Name:     "feedback_impact",
		IsStatic: true,
		Audience: models.AudienceUser,
		Template: "And the impact. How did it land on you? What changed for you " +
			"because of it?",
		NextStage: models.StagePtr(models.StageSynthesis),
	},

	// Apology playbook (acknowledge, account, amends, ask).
	{
		StageID:  models.StageApologyStart,
		Name:     "apology_acknowledge",
		IsStatic: true,
		Audience: models.AudienceUser,
		Template: "Let's begin with what happened. What did you do, or fail to do, " +
			"that you want to apologize for?",
		NextStage: models.StagePtr(models.StageApologyStart + 1),
	},
	{
		StageID:  models.StageApologyStart + 1,
		Name:     "apology_account",
		IsStatic: true,
		Audience: models.AudienceUser,
		Template: "How do you think it affected them? Try to see the moment from " +
			"their side.",
		NextStage: models.StagePtr(models.StageApologyStart + 2),
	},
	{
		StageID:  models.StageApologyStart + 2,
		Name:     "apology_amends",
		IsStatic: true,
		Audience: models.AudienceUser,
		Template: "If you could make it right, what would that look like? What are you " +
			"willing to do differently?",
		NextStage: models.StagePtr(models.StageApologyStart + 3),
	},
	{
		StageID:  models.StageApologyStart + 3,
		Name:     "apology_ask",
		IsStatic: true,
		Audience: models.AudienceUser,
		Template: "Is there anything you'd like to ask of them: forgiveness, patience, " +
			"or simply to be heard?",
		NextStage: models.StagePtr(models.StageSynthesis),
	},

	// Gratitude playbook (action, impact, feeling).
	{
		StageID:  models.StageGratitudeStart,
		Name:     "gratitude_action",
		IsStatic: true,
		Audience: models.AudienceUser,
		Template: "What did they do that you're grateful for? It can be one moment or " +
			"something they did over years.",
		NextStage: models.StagePtr(models.StageGratitudeStart + 1),
	},
	{
		StageID:  models.StageGratitudeStart + 1,
		Name:     "gratitude_impact",
		IsStatic: true,
		Audience: models.AudienceUser,
		Template: "What difference did it make in your life? Where would you be " +
			"without it?",
		NextStage: models.StagePtr(models.StageGratitudeStart + 2),
	},
	{
		StageID:  models.StageGratitudeStart + 2,
		Name:     "gratitude_feeling",
		IsStatic: true,
		Audience: models.AudienceUser,
		Template: "And when you think of them now, what do you feel? Say it plainly, " +
			"the way you would if they were here.",
		NextStage: models.StagePtr(models.StageSynthesis),
	},

	{
		StageID:  models.StageSynthesis,
		Name:     "synthesis",
		IsStatic: false,
		Audience: models.AudienceModel,
		Template: "Below is the full guided conversation so far:\n\n{full_conversation_context}\n\n" +
			"Write the message the user has been working toward, in their own voice and first person, " +
			"addressed to the person they named. Use only what they shared; do not invent details or " +
			"soften what they said. Respond in JSON with a user_response object whose \"message\" is " +
			"the drafted message and nothing else.",
	},
	{
		StageID:  models.StagePostSynthesis,
		Name:     "post_synthesis",
		IsStatic: true,
		Audience: models.AudienceUser,
		Template: "Take a moment to read it. These are your words, gathered in one place. " +
			"When you're ready, we can talk about what you'd like to do with it.",
		NextStage: models.StagePtr(models.StageRevealPreamble),
	},
	{
		StageID:  models.StageRevealPreamble,
		Name:     "reveal_preamble",
		IsStatic: false,
		Audience: models.AudienceUser,
		Template: "Some people keep what they wrote for themselves. Others choose to send it " +
			"to {recipient_name}. There's no right answer, and nothing is sent unless you say so.\n\n" +
			"Would you like to send your message to {recipient_name}, or keep it private?",
		NextStage: models.StagePtr(models.StagePreambleDecision),
	},
	{
		StageID:  models.StagePreambleDecision,
		Name:     "preamble_decision",
		IsStatic: false,
		Audience: models.AudienceUser,
		Template: "Would you like to send your message to {recipient_name}, or keep it " +
			"private?",
	},
	{
		StageID:  models.StageClosing,
		Name:     "closing",
		IsStatic: true,
		Audience: models.AudienceUser,
		Template: "Thank you for trusting this space with something real. Whatever you chose, " +
			"the words exist now, and that matters. Come back whenever there's more to say.",
	},
	{
		StageID:  models.StageIntentClassifier,
		Name:     "global_intent_classifier",
		IsStatic: true,
		Audience: models.AudienceModel,
		Template: "You are a router for a guided reflection conversation. Given the user's latest " +
			"message, classify it as exactly one of: INTENT_STOP (they want to stop or are done), " +
			"INTENT_RESTART (they want to start over), INTENT_CONFUSED (they are lost or asking what " +
			"is happening), INTENT_SKIP_TO_DRAFT (they want to jump straight to writing the message), " +
			"or NO_OVERRIDE (an ordinary reply that should continue the current step). Respond in " +
			"JSON with a system_response object containing \"decision\" set to the label.",
	},
	{
		StageID:  models.StageIntensityCheck,
		Name:     "intensity_check",
		IsStatic: true,
		Audience: models.AudienceModel,
		Template: "Assess the emotional intensity of the user's message. Respond in JSON with a " +
			"system_response object containing \"intensity\" set to one of: \"low\", \"moderate\", " +
			"\"elevated\", or \"high\".",
	},
	{
		StageID:  models.StageSafetyCheck,
		Name:     "safety_check",
		IsStatic: true,
		Audience: models.AudienceUser,
		Template: "It sounds like this is carrying real weight right now. We can keep going at " +
			"whatever pace feels right, and if you ever need more support than writing can give, " +
			"reaching out to someone you trust is always an option.",
	},
	{
		StageID:  models.StageVentingSanctuary,
		Name:     "venting_sanctuary",
		IsStatic: false,
		Audience: models.AudienceModel,
		Template: "The user is venting about feelings of {emotions}. Be a quiet, steady listener: " +
			"reflect what they said in one or two sentences, never advise, never redirect, never " +
			"rush them. Respond in JSON with a user_response object containing \"message\", and a " +
			"system_response object containing \"done\" set to true only if they clearly signal " +
			"they have said everything they needed to say, otherwise false.",
	},
	{
		StageID:  models.StageVentingOffRamp,
		Name:     "venting_offramp",
		IsStatic: true,
		Audience: models.AudienceUser,
		Template: "It sounds like you've let a lot out. Would you like to keep going, or is this " +
			"a good place to pause?\n\n1. Keep going\n0. I'm done for now",
	},
	{
		StageID:  models.StageIntentMenu,
		Name:     "intent_menu",
		IsStatic: true,
		Audience: models.AudienceUser,
		Template: "No problem. Here's where we can go from here:\n\n" +
			"1. Just let it out\n" +
			"2. Try a different approach\n" +
			"3. Go back a step\n" +
			"0. Stop for now",
	},
}

// EnsureSeed inserts any built-in stage definition missing from the store.
// Existing rows are left untouched.
func EnsureSeed(st store.Store) error {
	seeded := 0
	for _, def := range StageDefinitions {
		_, err := st.GetStageDefinition(def.StageID)
		if err == nil {
			continue
		}
		if !errors.Is(err, models.ErrStageNotFound) {
			return fmt.Errorf("failed to check stage definition %d: %w", def.StageID, err)
		}
		if err := st.UpsertStageDefinition(def); err != nil {
			return fmt.Errorf("failed to seed stage definition %d: %w", def.StageID, err)
		}
		seeded++
	}
	if seeded > 0 {
		slog.Info("Prompts.EnsureSeed: seeded stage definitions", "count", seeded)
	}
	return nil
}
