package bot

import (
	"fmt"
	"html"

	"github.com/ent0n29/voxcollect/internal/channel"
	"github.com/ent0n29/voxcollect/internal/corpus"
	"github.com/ent0n29/voxcollect/internal/session"
)

// Reply texts use Telegram-style HTML; dynamic values are escaped.
const (
	textChooseGender   = "Please select your gender"
	textChooseLanguage = "Please select your language 🌐"
	textConfirm        = "Do you want to accept or retake the recording?"
	textCanceled       = "Conversation canceled. Use /start to begin again."
	textStartFirst     = "Use /start to begin."
	textSaveFailed     = "Sorry, we could not save that. Please try again."
	textDownloadFailed = "We could not fetch your voice message. Please send it again."

	textWelcome = "Hi 👋 Welcome!\n\n" +
		"We use this bot to gather voice data for research 📊.\n" +
		"Send only one voice message per text 🎤. If there is an issue with your voice message, move on to the next text ➡️.\n" +
		"Thank you for your collaboration 🙏"
)

func genderButtons() [][]channel.Button {
	return [][]channel.Button{{
		{Label: "Male", Data: string(session.GenderMale)},
		{Label: "Female", Data: string(session.GenderFemale)},
	}}
}

func languageButtons() [][]channel.Button {
	buttons := make([]channel.Button, 0, len(corpus.Supported))
	for _, lang := range corpus.Supported {
		buttons = append(buttons, channel.Button{Label: lang.DisplayName(), Data: string(lang)})
	}
	return channel.Rows(buttons, 2)
}

func confirmButtons() [][]channel.Button {
	return [][]channel.Button{{
		{Label: "Accept", Data: session.DecisionAccept},
		{Label: "Retake", Data: session.DecisionRetake},
	}}
}

func promptText(s corpus.Sentence) string {
	return "📢 Please read aloud the text below. If the text is problematic or too difficult, use /skip to get a new one:\n\n" +
		html.EscapeString(s.Text) + " 🗣️"
}

func retakeText(s corpus.Sentence) string {
	return "Please send a new voice message for the text:\n\n" + html.EscapeString(s.Text) + " 🗣️"
}

func noSentencesText(lang corpus.Language) string {
	return fmt.Sprintf("I'm sorry, but there are no sentences available for %s at the moment. "+
		"Please contact us to add more sentences.", html.EscapeString(lang.DisplayName()))
}
