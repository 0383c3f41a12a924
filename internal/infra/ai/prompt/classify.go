package prompt

import (
	"fmt"
	"strings"
	"time"
)

// SystemPrompt pins the model to a single JSON object in the analysis schema.
func SystemPrompt() string {
	return `You analyze phone calls received by a dental clinic. You must produce one valid JSON object only (no markdown, no commentary).

Rules:
- Write only what was actually said in the call. Do not guess or generalize.
- When something was not mentioned leave the field empty ("" or [] or 0).
- The transcript may be in Korean. Keep names and the summary in the language of the call.

Schema:
{
  "category": "<new_patient|returning_new|existing_patient|missed|vendor|spam|other>",
  "temperature": "<hot|warm|cold>",
  "summary": "<3 to 5 short sentences separated by \n>",
  "concerns": ["<string>"],
  "followUp": "<booked|callback_needed|closed>",
  "confidence": 0.85,
  "patientName": "<name only when the caller stated it>",
  "interest": "<implant|orthodontics|cavity|scaling|checkup|pain|extraction|prosthetics|gum|other>",
  "interestDetail": "<specific teeth or treatment mentioned>",
  "preferredTime": "<preferred contact time>",
  "consultation": {
    "status": "<agreed|disagreed|pending>",
    "reason": "<why this status>",
    "estimatedAmount": 0,
    "appointmentDate": "<YYYY-MM-DD, only when booked>",
    "disagreeReasons": ["<string>"],
    "confidence": 0.85
  }
}

category:
- new_patient: first contact from a new patient
- returning_new: existing patient asking about a new treatment
- existing_patient: question about ongoing treatment or an existing appointment
- missed: the call did not connect
- vendor: supplier or business partner
- spam: advertising or promotion
- other: none of the above

temperature: hot = appointment booked or very eager, warm = interested but undecided, cold = low interest or a simple question.
followUp: booked = an appointment was made, callback_needed = the clinic must call back, closed = nothing further.

consultation.status:
- agreed: the caller booked or agreed to treatment
- disagreed: the caller clearly declined (price, other clinic, treatment plan)
- pending: still deciding, comparing clinics, or only asking for information (default)
estimatedAmount is a price in KRW stated in the call, otherwise 0.`
}

// UserPrompt wraps the formatted transcript. today resolves relative dates
// such as "tomorrow" in appointmentDate.
func UserPrompt(transcript string, today time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Today is %s.\n\n", today.Format("2006-01-02 (Mon)"))
	b.WriteString("Call transcript:\n")
	b.WriteString(strings.TrimSpace(transcript))
	b.WriteString("\n\nRespond with the JSON object per schema.")
	return b.String()
}
