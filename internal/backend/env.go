package backend

import "fmt"

// BoundEnv is the client-side configuration a scenario needs to talk to a
// backend. It is derived purely from a Descriptor and never mutated.
type BoundEnv struct {
	EndpointURL string
	AccessKey   string
	SecretKey   string
	Region      string
}

// Bind derives the scenario configuration for a descriptor. It is
// deterministic and performs no I/O.
func Bind(d Descriptor) BoundEnv {
	return BoundEnv{
		EndpointURL: d.EndpointURL(),
		AccessKey:   d.AccessKey,
		SecretKey:   d.SecretKey,
		Region:      d.Region,
	}
}

// EnvVars renders the bound environment as KEY=value pairs for an external
// scenario process. Both the AWS-prefixed names that boto3-style scripts read
// and the unprefixed names of the harness contract are set.
func (e BoundEnv) EnvVars() []string {
	return []string{
		fmt.Sprintf("AWS_ENDPOINT_URL=%s", e.EndpointURL),
		fmt.Sprintf("AWS_ACCESS_KEY_ID=%s", e.AccessKey),
		fmt.Sprintf("AWS_SECRET_ACCESS_KEY=%s", e.SecretKey),
		fmt.Sprintf("AWS_DEFAULT_REGION=%s", e.Region),
		fmt.Sprintf("ENDPOINT_URL=%s", e.EndpointURL),
		fmt.Sprintf("ACCESS_KEY_ID=%s", e.AccessKey),
		fmt.Sprintf("SECRET_ACCESS_KEY=%s", e.SecretKey),
		fmt.Sprintf("DEFAULT_REGION=%s", e.Region),
	}
}
