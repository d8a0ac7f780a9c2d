package website

// Deps are the collaborators shared by the built-in adapters.
type Deps struct {
	Sessions Sessions
	// AuthURL is the OAuth broker used by Twitter.
	AuthURL   string
	Client    ClientConfig
	Advertise bool
}

// NewDefaultRegistry registers every built-in adapter.
func NewDefaultRegistry(deps Deps) (*Registry, error) {
	entries := []Entry{
		{
			Adapter:    NewWeasyl(WeasylConfig{Sessions: deps.Sessions, Client: deps.Client}),
			Descriptor: WeasylDescriptor(),
		},
		{
			Adapter:    NewTwitter(TwitterConfig{AuthURL: deps.AuthURL, Sessions: deps.Sessions, Client: deps.Client}),
			Descriptor: TwitterDescriptor(),
		},
		{
			Adapter:    NewPillowfort(PillowfortConfig{Sessions: deps.Sessions, Client: deps.Client}),
			Descriptor: PillowfortDescriptor(),
		},
		{
			Adapter:    NewBluesky(BlueskyConfig{Sessions: deps.Sessions, Client: deps.Client}),
			Descriptor: BlueskyDescriptor(),
		},
		{
			Adapter:    NewDeviantArt(DeviantArtConfig{Sessions: deps.Sessions, Client: deps.Client}),
			Descriptor: DeviantArtDescriptor(),
		},
	}

	var opts []Option
	if deps.Advertise {
		opts = append(opts, WithAdvertisement())
	}
	return NewRegistry(entries, opts...)
}
