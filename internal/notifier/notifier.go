// internal/notifier/notifier.go
package notifier

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"

	"admission-pipeline/internal/common/config"
	apperrors "admission-pipeline/internal/common/errors"
	"admission-pipeline/internal/common/logger"
	"admission-pipeline/internal/models"
)

// Define interfaces for mocking
type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Notifier tells the student their prediction finished. Best-effort on both
// channels: a send failure is logged and reported, it never rolls back or
// re-runs the prediction itself.
type Notifier struct {
	config config.NotificationConfig
	db     *sql.DB
	logger logger.Logger
	ses    SESService
	sns    SNSService
}

func New(cfg config.NotificationConfig, db *sql.DB, log logger.Logger, sesClient SESService, snsClient SNSService) *Notifier {
	return &Notifier{
		config: cfg,
		db:     db,
		logger: log,
		ses:    sesClient,
		sns:    snsClient,
	}
}

// NotifyCompleted sends the completion notice for a fully scored aggregate.
// Callers only invoke it for COMPLETED results.
func (n *Notifier) NotifyCompleted(ctx context.Context, result *models.PredictionResult) error {
	email, phone, err := n.contact(ctx, result.StudentID.String())
	if err != nil {
		n.logger.Warn("No contact details for student, skipping notification", map[string]interface{}{
			"studentId": result.StudentID,
		})
		return nil
	}

	body := renderBody(result)

	if n.config.Email.Enabled && email != "" {
		if err := n.sendEmail(ctx, email, body); err != nil {
			n.logger.Error("Completion email failed", map[string]interface{}{
				"studentId": result.StudentID,
				"error":     err.Error(),
			})
			return apperrors.NewNotificationSendFailedError("email", err)
		}
	}

	if n.config.SMS.Enabled && phone != "" {
		if err := n.sendSMS(ctx, phone, body); err != nil {
			n.logger.Error("Completion SMS failed", map[string]interface{}{
				"studentId": result.StudentID,
				"error":     err.Error(),
			})
			return apperrors.NewNotificationSendFailedError("sms", err)
		}
	}
	return nil
}

func (n *Notifier) contact(ctx context.Context, studentID string) (string, string, error) {
	var email, phone sql.NullString
	err := n.db.QueryRowContext(ctx,
		`SELECT email, phone FROM students WHERE id = $1`, studentID).
		Scan(&email, &phone)
	if err != nil {
		return "", "", err
	}
	return email.String, phone.String, nil
}

func (n *Notifier) sendEmail(ctx context.Context, to, body string) error {
	_, err := n.ses.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String("Your admission prediction is ready")},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(body)},
				Html: &types.Content{Data: aws.String(body)},
			},
		},
		Source: aws.String(n.config.Email.FromEmail),
	})
	return err
}

func (n *Notifier) sendSMS(ctx context.Context, to, message string) error {
	input := &sns.PublishInput{
		PhoneNumber: aws.String(to),
		Message:     aws.String(message),
	}
	if n.config.SMS.SenderID != "" {
		input.MessageAttributes = map[string]snstypes.MessageAttributeValue{
			"AWS.SNS.SMS.SenderID": {
				DataType:    aws.String("String"),
				StringValue: aws.String(n.config.SMS.SenderID),
			},
		}
	}
	_, err := n.sns.Publish(ctx, input)
	return err
}

func renderBody(result *models.PredictionResult) string {
	var b strings.Builder
	b.WriteString("Your admission prediction has completed.")
	if n := len(result.L2Results); n > 0 {
		fmt.Fprintf(&b, " %d admission codes were scored.", n)
	}
	if ids := result.AdmissionIDs(); len(ids) > 0 {
		fmt.Fprintf(&b, " %d admissions matched your documents.", len(ids))
	}
	return b.String()
}
