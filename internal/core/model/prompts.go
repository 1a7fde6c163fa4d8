// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package model defines the data structures for the application. This file
// provides the hardcoded prompt text used for generation. The five battle
// prompts form the fixed narrative every session follows: opening clash,
// first special move, second special move, climax and resolution. They are
// defaults only; the `[battle] prompts` configuration overrides them.
package model

// BattlePrompts returns the default five-stage battle narrative.
func BattlePrompts() []string {
	return []string{
		"The Ninja trash talk each other. The FIGHT text on top disappears. Then, they meet head with incredible speed, energy crackling. Health meters showing. Lots of acrobatic ninjutsu spells. Epic Naruto-style music begins with traditional Japanese instruments, building tension with taiko drums and shamisen.",
		"Rasengan and chidori meet with explosive energy. The music intensifies with faster tempo, adding electric guitar riffs and orchestral strings, matching the combat rhythm. Player on the left says their catchphrase and performs a Jutsu",
		"The earth shakes and trembles. Music reaches a dramatic crescendo with full orchestra, choir vocals, and intense percussion. Player on the right says their catchphrase and performs a Jutsu",
		"They meet head to head in a huge powerful fist bump! the whole screen to completely white out. The music peaks with an explosive climax then suddenly cuts to silence as the screen flashes white, creating maximum dramatic impact. The players return to their original positions.",
		"One player lies down on the ground and takes a nap. Big Arcade style text appears on the screen saying PLAYER WINS! The other player stands tall and walks towards the camera and makes a victory pose with dramatic lighting. The camera zooms in and they say their victory catchphrase. The crowd roars. Triumphant yet emotional Naruto-style ending music plays, mixing victory theme with melancholic undertones, traditional flute solo fading out.",
	}
}

// LegacyVideoPrompt is the single-scene prompt used by the one-job flow.
const LegacyVideoPrompt = "The warriors charge at each other with incredible speed, energy crackling Health meters showing. Lots of acrobatic ninjutsu spells. Remove \"Fight\" from the top."

// Battle preparation image prompts, one per generated asset.
const (
	Player1StancePrompt = "Turn this person into an anime ninja fighter in a dynamic battle stance, full body, facing right, plain background."
	Player2StancePrompt = "Turn this person into an anime ninja fighter in a dynamic battle stance, full body, facing left, plain background."
	VersusPrompt        = "Create a fighting game versus screen with these two fighters on opposite sides and a large VS in the middle."
	ArenaPrompt         = "Place these two fighters facing each other in a fighting game arena with health bars at the top and the word FIGHT in the center."
)
