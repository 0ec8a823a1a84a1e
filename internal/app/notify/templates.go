// Package notify renders the e-mail bodies sent by the booking workflows.
package notify

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/teyyyyy/MedGrab/internal/domain"
)

// ─── Subjects ───────────────────────────────────────────────────────────────

const (
	SubjectNurseCancellation = "MedGrab Booking Cancellation"
	SubjectNewAssignment     = "MedGrab New Booking Assignment"
	SubjectBookingUpdate     = "MedGrab Booking Update"
	SubjectBookingAccepted   = "MedGrab Booking Accepted"
)

// ─── Templates ──────────────────────────────────────────────────────────────

var templates = template.Must(template.New("notify").Parse(`
{{define "nurse_cancellation"}}<html>
<body>
    <h2>Booking Cancellation Confirmation</h2>
    <p>Dear {{.NurseName}},</p>
    <p>Your cancellation of booking #{{.BookingID}} has been processed.</p>
    <p><strong>Important:</strong> This cancellation has resulted in a credit score change of {{.Delta}} points.</p>
    <p>Your current credit score is now {{.Score}}.</p>
    <ul>
        <li>If your credit score falls to {{.WarnThreshold}} or below, you will receive a warning.</li>
        <li>If your credit score falls to {{.SuspendThreshold}} or below after receiving a warning, your account will be suspended for {{.SuspensionDays}} days.</li>
    </ul>
    {{- if .Suspended}}
    <p><strong>Your account is suspended until {{.SuspensionEnd}}.</strong></p>
    {{- else if .Warned}}
    <p><strong>Your account has received a warning.</strong></p>
    {{- end}}
    <p>Thank you for your understanding.</p>
    <p>Best regards,<br>MedGrab Team</p>
</body>
</html>{{end}}

{{define "new_assignment"}}<html>
<body>
    <h2>New Booking Assignment</h2>
    <p>Dear {{.NurseName}},</p>
    <p>You have been assigned to booking #{{.BookingID}}.</p>
    <p>Please check your MedGrab app for booking details and to accept or decline this assignment.</p>
    <p>Best regards,<br>MedGrab Team</p>
</body>
</html>{{end}}

{{define "patient_rebook"}}<html>
<body>
    <h2>Booking Update Required</h2>
    <p>Dear {{.PatientName}},</p>
    <p>Unfortunately, we've had to cancel your booking #{{.BookingID}} {{.Why}}.</p>
    <p>Please create a new booking at your convenience. We apologize for the inconvenience.</p>
    <p>Best regards,<br>MedGrab Team</p>
</body>
</html>{{end}}

{{define "patient_reassigned"}}<html>
<body>
    <h2>Nurse Reassignment Notification</h2>
    <p>Dear {{.PatientName}},</p>
    <p>Your booking #{{.BookingID}} has been reassigned to a new nurse due to {{.Cause}} by {{.PreviousNurse}}.</p>
    <p>Your new nurse will be {{.NewNurse}}. All other booking details remain the same.</p>
    <p>We apologize for any inconvenience.</p>
    <p>Best regards,<br>MedGrab Team</p>
</body>
</html>{{end}}

{{define "booking_accepted"}}<html>
<body>
    <h2>Booking Accepted</h2>
    <p>Dear {{.Name}},</p>
    <p>Booking #{{.BookingID}} has been accepted by {{.NurseName}}.</p>
    <p>Best regards,<br>MedGrab Team</p>
</body>
</html>{{end}}
`))

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("notify: render %s: %w", name, err)
	}
	return buf.String(), nil
}

func patientName(p domain.Patient) string {
	if p.Name == "" {
		return "Patient"
	}
	return p.Name
}

// ─── Builders ───────────────────────────────────────────────────────────────

// NurseCancellation is the confirmation sent to a nurse who cancelled.
type NurseCancellation struct {
	Nurse            domain.Nurse
	BookingID        string
	Delta            int
	Score            int
	WarnThreshold    int
	SuspendThreshold int
	SuspensionDays   int
	Standing         domain.Standing
	SuspensionEnd    string
}

// Build renders the message.
func (m NurseCancellation) Build() (domain.Notification, error) {
	body, err := render("nurse_cancellation", map[string]any{
		"NurseName":        m.Nurse.Name,
		"BookingID":        m.BookingID,
		"Delta":            m.Delta,
		"Score":            m.Score,
		"WarnThreshold":    m.WarnThreshold,
		"SuspendThreshold": m.SuspendThreshold,
		"SuspensionDays":   m.SuspensionDays,
		"Suspended":        m.Standing == domain.StandingSuspended,
		"Warned":           m.Standing == domain.StandingWarned,
		"SuspensionEnd":    m.SuspensionEnd,
	})
	if err != nil {
		return domain.Notification{}, err
	}
	return domain.Notification{To: m.Nurse.Email, Subject: SubjectNurseCancellation, BodyHTML: body}, nil
}

// NewAssignment tells a nurse about a booking assigned to them.
func NewAssignment(nurse domain.Nurse, bookingID string) (domain.Notification, error) {
	body, err := render("new_assignment", map[string]any{
		"NurseName": nurse.Name,
		"BookingID": bookingID,
	})
	if err != nil {
		return domain.Notification{}, err
	}
	return domain.Notification{To: nurse.Email, Subject: SubjectNewAssignment, BodyHTML: body}, nil
}

// PatientRebook asks the patient to create a new booking. why completes the
// sentence "we've had to cancel your booking #id ...".
func PatientRebook(p domain.Patient, bookingID, why string) (domain.Notification, error) {
	body, err := render("patient_rebook", map[string]any{
		"PatientName": patientName(p),
		"BookingID":   bookingID,
		"Why":         why,
	})
	if err != nil {
		return domain.Notification{}, err
	}
	return domain.Notification{To: p.Email, Subject: SubjectBookingUpdate, BodyHTML: body}, nil
}

// PatientReassigned names the replacement nurse. cause is "cancellation"
// or "rejection".
func PatientReassigned(p domain.Patient, bookingID, cause, previousNurse, newNurse string) (domain.Notification, error) {
	body, err := render("patient_reassigned", map[string]any{
		"PatientName":   patientName(p),
		"BookingID":     bookingID,
		"Cause":         cause,
		"PreviousNurse": previousNurse,
		"NewNurse":      newNurse,
	})
	if err != nil {
		return domain.Notification{}, err
	}
	return domain.Notification{To: p.Email, Subject: SubjectBookingUpdate, BodyHTML: body}, nil
}

// BookingAccepted confirms an acceptance to either party.
func BookingAccepted(to, name, bookingID, nurseName string) (domain.Notification, error) {
	body, err := render("booking_accepted", map[string]any{
		"Name":      name,
		"BookingID": bookingID,
		"NurseName": nurseName,
	})
	if err != nil {
		return domain.Notification{}, err
	}
	return domain.Notification{To: to, Subject: SubjectBookingAccepted, BodyHTML: body}, nil
}
