// Command make_call places an outbound test call that points at a running
// voxlead instance, so the media stream can be exercised without waiting for
// an inbound call.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"
)

type callConfig struct {
	Telephony struct {
		PublicURL string `mapstructure:"public_url"`
		AuthToken string `mapstructure:"auth_token"`
		VoicePath string `mapstructure:"voice_path"`
	} `mapstructure:"telephony"`
}

func main() {
	configPath := flag.String("config", "config.yaml", "")
	from := flag.String("from", "", "")
	to := flag.String("to", "", "")
	voiceURL := flag.String("voice_url", "", "override the voice webhook URL")
	flag.Parse()
	if *from == "" || *to == "" {
		fmt.Println("usage: make_call -from=+123 -to=+456 [-config=...]")
		os.Exit(1)
	}

	cfg, err := loadCallConfig(*configPath)
	if err != nil {
		fmt.Println("config error:", err)
		os.Exit(1)
	}
	accountSID := os.Getenv("TWILIO_ACCOUNT_SID")
	authToken := cfg.Telephony.AuthToken
	if authToken == "" {
		authToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if accountSID == "" || authToken == "" {
		fmt.Println("missing twilio credentials (TWILIO_ACCOUNT_SID / telephony.auth_token)")
		os.Exit(1)
	}

	url := *voiceURL
	if url == "" {
		if cfg.Telephony.PublicURL == "" {
			fmt.Println("telephony.public_url is empty")
			os.Exit(1)
		}
		voicePath := cfg.Telephony.VoicePath
		if voicePath == "" {
			voicePath = "/voice"
		}
		url = "https://" + normalizePublicURL(cfg.Telephony.PublicURL) + voicePath
	}

	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	params := &api.CreateCallParams{}
	params.SetTo(*to)
	params.SetFrom(*from)
	params.SetUrl(url)
	resp, err := rest.Api.CreateCall(params)
	if err != nil {
		fmt.Println("call error:", err)
		os.Exit(1)
	}
	if resp == nil || resp.Sid == nil {
		fmt.Println("missing call sid in response")
		os.Exit(1)
	}
	fmt.Println("call_sid:", *resp.Sid)
}

func loadCallConfig(path string) (callConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return callConfig{}, err
	}
	var cfg callConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return callConfig{}, err
	}
	return cfg, nil
}

func normalizePublicURL(v string) string {
	v = strings.TrimPrefix(v, "https://")
	v = strings.TrimPrefix(v, "http://")
	return strings.TrimRight(v, "/")
}
