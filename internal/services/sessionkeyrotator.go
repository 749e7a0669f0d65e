package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/rs/zerolog"
)

// Secrets Manager rotation steps and version stages.
const (
	StepCreateSecret = "createSecret"
	StepSetSecret    = "setSecret"
	StepTestSecret   = "testSecret"
	StepFinishSecret = "finishSecret"

	stageCurrent = "AWSCURRENT"
	stagePending = "AWSPENDING"
)

// RotationSteps is the order Secrets Manager invokes the rotation function.
var RotationSteps = []string{StepCreateSecret, StepSetSecret, StepTestSecret, StepFinishSecret}

// maxSessionKeys bounds how many older keys still decode existing cookies.
const maxSessionKeys = 3

// RotationEvent is the payload Secrets Manager sends to a rotation function.
type RotationEvent struct {
	Step               string `json:"Step"`
	Token              string `json:"Token"`
	SecretId           string `json:"SecretId"`
	ClientRequestToken string `json:"ClientRequestToken"`
}

// SecretsRotationAPI is the subset of the Secrets Manager client rotation needs.
type SecretsRotationAPI interface {
	SecretsAPI
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	UpdateSecretVersionStage(ctx context.Context, params *secretsmanager.UpdateSecretVersionStageInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.UpdateSecretVersionStageOutput, error)
}

// SessionKeyRotator maintains the secret SessionKeyService reads: a JSON list
// of base64 256-bit keys, newest first.
type SessionKeyRotator struct {
	client SecretsRotationAPI
	now    func() time.Time
}

func NewSessionKeyRotator(client SecretsRotationAPI) *SessionKeyRotator {
	return &SessionKeyRotator{client: client, now: time.Now}
}

func generateSessionKey() (string, error) {
	b := make([]byte, sessionSecretLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func (r *SessionKeyRotator) HandleRotation(ctx context.Context, event RotationEvent) error {
	switch event.Step {
	case StepCreateSecret:
		return r.createSecret(ctx, event)
	case StepSetSecret:
		// nothing downstream holds a copy of the keys
		return nil
	case StepTestSecret:
		return r.testSecret(ctx, event)
	case StepFinishSecret:
		return r.finishSecret(ctx, event)
	default:
		return fmt.Errorf("unknown rotation step: %s", event.Step)
	}
}

// Rotate runs every step in order, as Secrets Manager would.
func (r *SessionKeyRotator) Rotate(ctx context.Context, secretID, clientRequestToken string) error {
	for _, step := range RotationSteps {
		event := RotationEvent{
			Step:               step,
			SecretId:           secretID,
			ClientRequestToken: clientRequestToken,
		}
		if err := r.HandleRotation(ctx, event); err != nil {
			return fmt.Errorf("%s step failed: %w", step, err)
		}
	}
	return nil
}

// CancelRotation removes the pending stage from versionID.
func (r *SessionKeyRotator) CancelRotation(ctx context.Context, secretID, versionID string) error {
	_, err := r.client.UpdateSecretVersionStage(ctx, &secretsmanager.UpdateSecretVersionStageInput{
		SecretId:            aws.String(secretID),
		VersionStage:        aws.String(stagePending),
		RemoveFromVersionId: aws.String(versionID),
	})
	if err != nil {
		return fmt.Errorf("failed to remove %s stage: %w", stagePending, err)
	}
	return nil
}

// currentVersions returns the valid versions of the current secret. A missing,
// empty or corrupt secret yields none so rotation can start fresh.
func (r *SessionKeyRotator) currentVersions(ctx context.Context, secretID string) []SecretVersion {
	logger := zerolog.Ctx(ctx)

	output, err := r.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to get current secret - starting fresh")
		return nil
	}
	if output.SecretString == nil || *output.SecretString == "" {
		logger.Warn().Msg("Secret is empty - starting fresh")
		return nil
	}

	var versions []SecretVersion
	if err := json.Unmarshal([]byte(*output.SecretString), &versions); err != nil {
		logger.Warn().Err(err).Msg("Current secret is corrupt (invalid JSON) - overwriting with fresh secret")
		return nil
	}

	valid := make([]SecretVersion, 0, len(versions))
	for i, v := range versions {
		if _, err := decodeSessionSecret(v.Secret); err != nil {
			logger.Warn().Err(err).Int("index", i).Msg("Discarding unusable secret version")
			continue
		}
		valid = append(valid, v)
	}
	return valid
}

func (r *SessionKeyRotator) createSecret(ctx context.Context, event RotationEvent) error {
	logger := zerolog.Ctx(ctx)

	key, err := generateSessionKey()
	if err != nil {
		return err
	}

	versions := append([]SecretVersion{{
		Secret:    key,
		Timestamp: r.now().UTC().Format(time.RFC3339),
	}}, r.currentVersions(ctx, event.SecretId)...)
	if len(versions) > maxSessionKeys {
		versions = versions[:maxSessionKeys]
	}

	secretJSON, err := json.Marshal(versions)
	if err != nil {
		return fmt.Errorf("failed to marshal secret: %w", err)
	}

	logger.Info().Int("version_count", len(versions)).Msg("Creating secret with valid versions")

	_, err = r.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:           aws.String(event.SecretId),
		SecretString:       aws.String(string(secretJSON)),
		ClientRequestToken: aws.String(event.ClientRequestToken),
		VersionStages:      []string{stagePending},
	})
	if err != nil {
		return fmt.Errorf("failed to put secret value: %w", err)
	}
	return nil
}

// testSecret checks the pending secret decodes the way SessionKeyService reads it.
func (r *SessionKeyRotator) testSecret(ctx context.Context, event RotationEvent) error {
	output, err := r.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId:     aws.String(event.SecretId),
		VersionStage: aws.String(stagePending),
	})
	if err != nil {
		return fmt.Errorf("failed to get pending secret: %w", err)
	}
	if output.SecretString == nil {
		return fmt.Errorf("pending secret has no string value")
	}

	var versions []SecretVersion
	if err := json.Unmarshal([]byte(*output.SecretString), &versions); err != nil {
		return fmt.Errorf("pending secret is not valid JSON: %w", err)
	}
	if len(versions) == 0 {
		return fmt.Errorf("pending secret has no versions")
	}
	if _, err := decodeSessionSecret(versions[0].Secret); err != nil {
		return fmt.Errorf("pending secret is unusable: %w", err)
	}
	return nil
}

// finishSecret moves AWSCURRENT onto the pending version, detaching it from
// whichever version holds it now.
func (r *SessionKeyRotator) finishSecret(ctx context.Context, event RotationEvent) error {
	input := &secretsmanager.UpdateSecretVersionStageInput{
		SecretId:        aws.String(event.SecretId),
		VersionStage:    aws.String(stageCurrent),
		MoveToVersionId: aws.String(event.ClientRequestToken),
	}

	current, err := r.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(event.SecretId),
	})
	if err == nil && current.VersionId != nil {
		if *current.VersionId == event.ClientRequestToken {
			return nil
		}
		input.RemoveFromVersionId = current.VersionId
	}

	if _, err := r.client.UpdateSecretVersionStage(ctx, input); err != nil {
		return fmt.Errorf("failed to update version stage: %w", err)
	}
	return nil
}
