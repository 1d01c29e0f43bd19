package email

import (
	"context"
	"fmt"

	"course_reminder_service/internal/domain/course"
	domainemail "course_reminder_service/internal/domain/email"
)

// Kind names a notification template.
type Kind string

const (
	KindCourseStarting Kind = "course-starting"
	KindPreparation    Kind = "preparation"
	KindTechCheck      Kind = "tech-check"
	KindCustom         Kind = "custom"
)

// TemplateSender renders notifications from templates and hands them to a
// Transport. Kinds without a template return ErrTemplateUnavailable.
type TemplateSender struct {
	transport Transport
	templates map[Kind]emailTemplate
}

var _ domainemail.Sender = (*TemplateSender)(nil)

// NewTemplateSender parses sources. Pass DefaultTemplates() for the stock set.
func NewTemplateSender(transport Transport, sources map[Kind]TemplateSource) (*TemplateSender, error) {
	templates, err := parseTemplates(sources)
	if err != nil {
		return nil, err
	}
	return &TemplateSender{transport: transport, templates: templates}, nil
}

func (s *TemplateSender) SendCourseStarting(ctx context.Context, to course.Enrollee, c *course.Summary) error {
	return s.send(ctx, KindCourseStarting, to, c, "")
}

func (s *TemplateSender) SendPreparation(ctx context.Context, to course.Enrollee, c *course.Summary) error {
	return s.send(ctx, KindPreparation, to, c, "")
}

func (s *TemplateSender) SendTechCheck(ctx context.Context, to course.Enrollee, c *course.Summary) error {
	return s.send(ctx, KindTechCheck, to, c, "")
}

func (s *TemplateSender) SendCustomMessage(ctx context.Context, to course.Enrollee, c *course.Summary, message string) error {
	return s.send(ctx, KindCustom, to, c, message)
}

func (s *TemplateSender) SendPlain(ctx context.Context, to course.Enrollee, subject, body string) error {
	return s.transport.Send(ctx, Message{To: to.Email, ToName: to.Name, Subject: subject, Text: body})
}

func (s *TemplateSender) send(ctx context.Context, kind Kind, to course.Enrollee, c *course.Summary, message string) error {
	tmpl, ok := s.templates[kind]
	if !ok {
		return fmt.Errorf("%s: %w", kind, domainemail.ErrTemplateUnavailable)
	}
	start, hasStart := c.Start()
	subject, html, err := tmpl.render(templateData{
		Name:       to.Name,
		CourseName: c.DisplayName(),
		CourseCode: c.CodeOrEmpty(),
		StartDate:  formatStart(start, hasStart),
		Message:    message,
	})
	if err != nil {
		return fmt.Errorf("render %s e-mail: %w", kind, err)
	}
	return s.transport.Send(ctx, Message{To: to.Email, ToName: to.Name, Subject: subject, HTML: html})
}
