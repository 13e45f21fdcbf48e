// Package braket extracts devices from Amazon Braket through the AWS SDK.
package braket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/braket"
	"github.com/aws/aws-sdk-go-v2/service/braket/types"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/JakeFAU/quantum-catalog/internal/catalog"
	"github.com/JakeFAU/quantum-catalog/internal/extractor"
)

// Name is the registry key of the Braket extractor.
const Name = "braket.backends"

// Credential names expected in SDKInput.Credentials.
const (
	EnvAccessKeyID     = "AWS_ACCESS_KEY_ID"
	EnvSecretAccessKey = "AWS_SECRET_ACCESS_KEY"
	EnvRegion          = "AWS_REGION"
)

const openQASMAction = `action.braket\.ir\.openqasm\.program.supportedOperations`

// Client is the subset of the Braket API used here.
type Client interface {
	braket.SearchDevicesAPIClient
	GetDevice(ctx context.Context, params *braket.GetDeviceInput, optFns ...func(*braket.Options)) (*braket.GetDeviceOutput, error)
}

// ClientFactory builds a Client from resolved credentials.
type ClientFactory func(ctx context.Context, creds map[string]string) (Client, error)

// ProviderLookup resolves the pass-through provider of a device.
type ProviderLookup interface {
	FindProvider(ctx context.Context, pid string) (catalog.Provider, error)
}

// NewClient builds a Braket client from explicit credentials; nothing is read
// from or written to the process environment for the keys themselves.
func NewClient(ctx context.Context, creds map[string]string) (Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region := creds[EnvRegion]; region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if id, secret := creds[EnvAccessKeyID], creds[EnvSecretAccessKey]; id != "" && secret != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(id, secret, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return braket.NewFromConfig(cfg), nil
}

// SecretSource resolves the operator's stored credentials for a platform key.
type SecretSource interface {
	Secrets(ctx context.Context, platform string, names ...string) (map[string]string, error)
}

// Discover lists the vendors currently reachable through Amazon Braket using
// the operator's stored AWS credentials. Other platforms have no discovery.
func Discover(secrets SecretSource, factory ClientFactory) func(ctx context.Context, platform string) ([]string, error) {
	return func(ctx context.Context, platform string) ([]string, error) {
		if platform != catalog.PlatformAmazonBraket {
			return nil, nil
		}
		key := catalog.CredentialKey(catalog.NativePID(platform))
		creds, err := secrets.Secrets(ctx, key, EnvAccessKeyID, EnvSecretAccessKey, EnvRegion)
		if err != nil {
			return nil, fmt.Errorf("braket credentials: %w", err)
		}
		client, err := factory(ctx, creds)
		if err != nil {
			return nil, err
		}
		return ProviderNames(ctx, client)
	}
}

// New returns the Braket extractor. Devices of vendors with no pass-through
// provider document are skipped.
func New(factory ClientFactory, providers ProviderLookup, logger *zap.Logger) extractor.Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return extractor.Func{
		FetchMethod: catalog.FetchSDK,
		Fn: func(ctx context.Context, in extractor.Input) ([]catalog.RawRecord, error) {
			sdk, ok := in.(extractor.SDKInput)
			if !ok {
				return nil, fmt.Errorf("%w: %T", extractor.ErrInvalidInput, in)
			}
			client, err := factory(ctx, sdk.Credentials)
			if err != nil {
				return nil, err
			}
			return extract(ctx, client, providers, logger)
		},
	}
}

// device is the raw shape handed to the normalizer.
type device struct {
	DeviceName     string         `json:"device_name"`
	Status         string         `json:"status"`
	QubitCount     int64          `json:"qubit_count"`
	QueueDepth     string         `json:"queue_depth"`
	GatesSupported []string       `json:"gates_supported"`
	ShotsRange     map[string]int `json:"shots_range"`
	DeviceCost     deviceCost     `json:"device_cost"`
}

type deviceCost struct {
	Price float64 `json:"price"`
	Unit  string  `json:"unit"`
}

func extract(ctx context.Context, client Client, providers ProviderLookup, logger *zap.Logger) ([]catalog.RawRecord, error) {
	summaries, err := searchDevices(ctx, client)
	if err != nil {
		return nil, err
	}
	var (
		records []catalog.RawRecord
		errs    []error
		refs    = map[string]catalog.ProviderRef{}
		unknown = map[string]bool{}
	)
	for _, summary := range summaries {
		vendor := aws.ToString(summary.ProviderName)
		if unknown[vendor] {
			continue
		}
		ref, ok := refs[vendor]
		if !ok {
			p, err := providers.FindProvider(ctx, catalog.ThirdPartyPID(catalog.PlatformAmazonBraket, vendor))
			if errors.Is(err, catalog.ErrNotFound) {
				logger.Debug("skipping braket vendor without provider",
					zap.String("vendor", vendor),
					zap.String("device", aws.ToString(summary.DeviceName)),
				)
				unknown[vendor] = true
				continue
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("provider for %s: %w", vendor, err))
				continue
			}
			ref = catalog.ProviderRef{ID: p.ID, Name: p.Name, From: catalog.PlatformAmazonBraket}
			refs[vendor] = ref
		}
		out, err := client.GetDevice(ctx, &braket.GetDeviceInput{DeviceArn: summary.DeviceArn})
		if err != nil {
			errs = append(errs, fmt.Errorf("get device %s: %w", aws.ToString(summary.DeviceArn), err))
			continue
		}
		payload, err := json.Marshal(toDevice(out))
		if err != nil {
			errs = append(errs, fmt.Errorf("encode %s: %w", aws.ToString(out.DeviceName), err))
			continue
		}
		records = append(records, catalog.RawRecord{Provider: ref, Payload: payload})
	}
	return records, errors.Join(errs...)
}

func searchDevices(ctx context.Context, client Client) ([]types.DeviceSummary, error) {
	var devices []types.DeviceSummary
	pager := braket.NewSearchDevicesPaginator(client, &braket.SearchDevicesInput{
		Filters: []types.SearchDevicesFilter{},
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("search braket devices: %w", err)
		}
		devices = append(devices, page.Devices...)
	}
	return devices, nil
}

// ProviderNames lists the distinct hardware vendors exposed through Braket,
// in the order they are first seen.
func ProviderNames(ctx context.Context, client Client) ([]string, error) {
	devices, err := searchDevices(ctx, client)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var names []string
	for _, d := range devices {
		name := aws.ToString(d.ProviderName)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names, nil
}

func toDevice(out *braket.GetDeviceOutput) device {
	caps := gjson.Parse(aws.ToString(out.DeviceCapabilities))
	d := device{
		DeviceName:     aws.ToString(out.DeviceName),
		Status:         strings.ToLower(string(out.DeviceStatus)),
		QubitCount:     caps.Get("paradigm.qubitCount").Int(),
		QueueDepth:     queueDepth(out.DeviceQueueInfo),
		GatesSupported: []string{},
		ShotsRange:     map[string]int{"min": 0, "max": 0},
		DeviceCost: deviceCost{
			Price: caps.Get("service.deviceCost.price").Float(),
			Unit:  caps.Get("service.deviceCost.unit").String(),
		},
	}
	for _, op := range caps.Get(openQASMAction).Array() {
		d.GatesSupported = append(d.GatesSupported, op.String())
	}
	if shots := caps.Get("service.shotsRange").Array(); len(shots) == 2 {
		d.ShotsRange["min"] = int(shots[0].Int())
		d.ShotsRange["max"] = int(shots[1].Int())
	}
	return d
}

// queueDepth returns the normal-priority quantum task queue size, "-1" when absent.
func queueDepth(infos []types.DeviceQueueInfo) string {
	for _, info := range infos {
		if info.Queue == types.QueueNameQuantumTasksQueue && info.QueuePriority == types.QueuePriorityNormal {
			return aws.ToString(info.QueueSize)
		}
	}
	return "-1"
}
