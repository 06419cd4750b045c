package dialog

// Fixed agent utterances per language. Urdu phrases are romanized the same
// way callers speak them, which keeps them synthesizable by voices without
// Urdu script support.

// NotFoundSentinel is the exact reply the completion prompt instructs the
// model to give when the retrieved context cannot answer the question. The
// escalation tracker matches on it.
const NotFoundSentinel = "I do not have that information."

// Greeting is the opening line of every call; it is followed by AskLanguage.
func Greeting() string {
	return "Hello, this is the Institute of Space Technology admissions line."
}

// AskLanguage prompts the caller to choose a conversation language.
func AskLanguage() string {
	return "Would you like to continue in English or Urdu? Aap English ya Urdu mein baat karna chahenge?"
}

// Acknowledgment confirms a language switch in the new language.
func Acknowledgment(l Language) string {
	if l == LangUrdu {
		return "Theek hai, ab hum Urdu mein baat karenge."
	}
	return "Alright, I will continue in English."
}

// Apology is spoken when transcription fails; the caller is re-prompted.
func Apology(l Language) string {
	if l == LangUrdu {
		return "Maazrat, main samajh nahi saki. Baraye meherbani dobara kahiye."
	}
	return "Sorry, I didn't catch that. Please repeat your question."
}

// EscalationPrompt forwards the query to a human and asks for a callback
// number.
func EscalationPrompt(l Language) string {
	if l == LangUrdu {
		return "Hum yeh sawal admissions team ko bhej denge. Baraye meherbani apna phone number bataiye taake hum aap ko call kar saken."
	}
	return "We will forward this query to our admissions team. Please tell me your phone number so we can call you back."
}

// PhoneReprompt asks once more for a callback number.
func PhoneReprompt(l Language) string {
	if l == LangUrdu {
		return "Maazrat, number samajh nahi aaya. Apna phone number dobara bataiye."
	}
	return "Sorry, I could not catch a phone number. Please say it once more, digit by digit."
}

// PhoneCaptured confirms the callback number and resumes the conversation.
func PhoneCaptured(l Language) string {
	if l == LangUrdu {
		return "Shukriya, hamari team aap ko call karegi. Koi aur sawal?"
	}
	return "Thank you, our team will call you back. Is there anything else I can help with?"
}

// PhoneSkipped resumes the conversation after the re-prompt also failed.
func PhoneSkipped(l Language) string {
	if l == LangUrdu {
		return "Koi baat nahi, hum aap ke sawal ko aage bhej denge. Koi aur sawal?"
	}
	return "That's alright, we will still forward your query. Is there anything else I can help with?"
}

// Closing is spoken as the session enters Ending.
func Closing(l Language) string {
	if l == LangUrdu {
		return "Institute of Space Technology ko call karne ka shukriya. Khuda hafiz."
	}
	return "Thank you for calling the Institute of Space Technology. Goodbye."
}
